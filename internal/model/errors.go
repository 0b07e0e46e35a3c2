// Package model holds the data shapes that flow through every controller:
// requests, responses, the per-request context, sessions, push events and
// the structured error list a pipeline stage attaches to a failing request.
package model

// Error kinds, matching the fixed vocabulary the operations and core
// controllers map onto a response type (INVALID/NOTFOUND/CONFLICT/UNKNOWN/
// NOTALLOWED/UNAUTHORIZED/AUTHENTICATION_FAILURE).
const (
	ErrorTypeInvalid               = "invalid"
	ErrorTypeNotFound              = "not found"
	ErrorTypeConflict              = "conflict"
	ErrorTypeUnknown               = "unknown"
	ErrorTypeNotAllowed            = "not allowed"
	ErrorTypeUnauthorized          = "unauthorized"
	ErrorTypeAuthenticationFailure = "authentication failure"
)

// Error is a single human-readable complaint about one property of a
// request or entity.
type Error struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// PropertyError groups the errors raised against a single property name.
type PropertyError struct {
	Type     string  `json:"type"`
	Property string  `json:"property"`
	Errors   []Error `json:"descriptions"`
}

// ErrorList accumulates PropertyErrors for a request, grouped by property so
// that a channel can render one entry per offending field. The Type of the
// list is the type of the most recent error added; the operations
// controller uses it to pick the HTTP-equivalent status of a FailureResponse.
type ErrorList struct {
	Type       string
	Properties []*PropertyError
}

// NewErrorList returns an empty list.
func NewErrorList() *ErrorList {
	return &ErrorList{}
}

// Add appends an error for property, creating its PropertyError bucket if
// this is the first error reported against it.
func (l *ErrorList) Add(errType, property, title, description, suggestion string) {
	l.Type = errType

	for _, pe := range l.Properties {
		if pe.Property == property {
			pe.Errors = append(pe.Errors, Error{Title: title, Description: description, Suggestion: suggestion})
			return
		}
	}

	l.Properties = append(l.Properties, &PropertyError{
		Type:     errType,
		Property: property,
		Errors:   []Error{{Title: title, Description: description, Suggestion: suggestion}},
	})
}

// Merge folds another list's property errors into this one, preserving
// per-property grouping.
func (l *ErrorList) Merge(other *ErrorList) {
	if other == nil {
		return
	}
	if other.Type != "" {
		l.Type = other.Type
	}
	for _, incoming := range other.Properties {
		var existing *PropertyError
		for _, pe := range l.Properties {
			if pe.Property == incoming.Property {
				existing = pe
				break
			}
		}
		if existing == nil {
			l.Properties = append(l.Properties, incoming)
			continue
		}
		existing.Errors = append(existing.Errors, incoming.Errors...)
	}
}

// Empty reports whether the list carries no errors.
func (l *ErrorList) Empty() bool {
	return l == nil || len(l.Properties) == 0
}

// ToDict renders the list the way a FailureResponse embeds it.
func (l *ErrorList) ToDict() []map[string]any {
	out := make([]map[string]any, 0, len(l.Properties))
	for _, pe := range l.Properties {
		descs := make([]map[string]any, 0, len(pe.Errors))
		for _, e := range pe.Errors {
			descs = append(descs, map[string]any{
				"title":       e.Title,
				"description": e.Description,
				"suggestion":  e.Suggestion,
			})
		}
		out = append(out, map[string]any{
			"type":         pe.Type,
			"property":     pe.Property,
			"descriptions": descs,
		})
	}
	return out
}
