package permissions

import (
	"context"
	"slices"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// Role constants, grounded on the teacher's internal/middleware/rbac.go
// role set, adapted from HTTP middleware into a plugin hook.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// RBACPlugin grants access on rest names whose required role (or "admin")
// appears in the session root object's "roles" field. An empty Required
// entry for a rest name means any authenticated session with RoleUser may
// act on it.
type RBACPlugin struct {
	plugins.Base
	Required map[string]string // rest name -> role required
}

// NewRBACPlugin returns a role-based permissions plugin.
func NewRBACPlugin(required map[string]string) *RBACPlugin {
	return &RBACPlugin{
		Base:     plugins.NewBase(plugins.Manifest{Name: "rbac.permissions", Version: "1.0", Identifier: "rbac.permissions"}),
		Required: required,
	}
}

func (p *RBACPlugin) IsPermitted(ctx context.Context, session *model.Session, entity model.Entity, action model.Action) bool {
	if session == nil || session.RootObject == nil || entity == nil {
		return false
	}

	roles := rolesOf(session.RootObject)
	if HasRole(roles, RoleAdmin) {
		return true
	}

	required, ok := p.Required[entity.RestName()]
	if !ok || required == "" {
		return HasRole(roles, RoleUser, RoleAdmin)
	}
	return HasRole(roles, required)
}

// HasRole reports whether any of candidates appears in roles.
func HasRole(roles []string, candidates ...string) bool {
	for _, c := range candidates {
		if slices.Contains(roles, c) {
			return true
		}
	}
	return false
}

func rolesOf(root model.Entity) []string {
	raw, ok := root.ToDict()["roles"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

var _ plugins.PermissionsPlugin = (*RBACPlugin)(nil)
