// Package permissions holds the reference PermissionsPlugin implementations:
// an ownership check and a role-based check.
package permissions

import (
	"context"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// OwnerPlugin grants any action on an entity whose Owner() matches the
// session's authenticated root object, grounded on the original source's
// GAOwnerPermissionsPlugin referenced throughout
// tests/core/controllers/test_push_controller.py.
type OwnerPlugin struct {
	plugins.Base
}

// NewOwnerPlugin returns an owner-match permissions plugin.
func NewOwnerPlugin() *OwnerPlugin {
	return &OwnerPlugin{
		Base: plugins.NewBase(plugins.Manifest{Name: "owner.permissions", Version: "1.0", Identifier: "owner.permissions"}),
	}
}

func (p *OwnerPlugin) IsPermitted(ctx context.Context, session *model.Session, entity model.Entity, action model.Action) bool {
	if session == nil || session.RootObject == nil || entity == nil {
		return false
	}
	return entity.Owner() == session.RootObject.Identifier()
}

var _ plugins.PermissionsPlugin = (*OwnerPlugin)(nil)
