// Package operations is the Operations Controller: the per-request
// pipeline that resolves a Request's resource path into parent/target
// entities, classifies the action, dispatches permission and logic hooks
// around a single storage call, and assembles the Response.
package operations

import (
	"fmt"
	"strings"

	"github.com/dogild/garuda/internal/model"
)

// ParseResourcePath splits a transport-level path like "/enterprises/abc123"
// into an ordered resource path, enforcing the hierarchical depth limit of
// 1 to 2 segments. The final segment is always the target; an earlier
// segment, if present, is the parent.
func ParseResourcePath(path string) ([]model.PathSegment, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("operations: empty resource path")
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) > 4 {
		return nil, fmt.Errorf("operations: resource path %q exceeds the hierarchical depth limit", path)
	}

	var segments []model.PathSegment
	for i := 0; i < len(parts); i += 2 {
		seg := model.PathSegment{RestName: parts[i]}
		if i+1 < len(parts) {
			seg.Identifier = parts[i+1]
		}
		segments = append(segments, seg)
	}

	if len(segments) < 1 || len(segments) > 2 {
		return nil, fmt.Errorf("operations: resource path %q has depth %d, want 1 or 2", path, len(segments))
	}
	return segments, nil
}

// ClassifyAction derives the Action from the HTTP-equivalent method and
// whether the target segment carries an identifier.
func ClassifyAction(method string, target model.PathSegment) (model.Action, error) {
	hasID := target.Identifier != ""

	switch strings.ToUpper(method) {
	case "GET":
		if hasID {
			return model.ActionRead, nil
		}
		return model.ActionReadAll, nil
	case "POST":
		if hasID {
			return "", fmt.Errorf("operations: POST target must not carry an identifier")
		}
		return model.ActionCreate, nil
	case "PUT":
		if !hasID {
			return "", fmt.Errorf("operations: PUT target requires an identifier")
		}
		return model.ActionUpdate, nil
	case "DELETE":
		if !hasID {
			return "", fmt.Errorf("operations: DELETE target requires an identifier")
		}
		return model.ActionDelete, nil
	default:
		return "", fmt.Errorf("operations: unrecognized method %q", method)
	}
}
