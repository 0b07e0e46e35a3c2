// Package permissions is the Permissions Controller: it grants an action if
// any registered PermissionsPlugin grants it, matching the original
// source's any()-over-plugins semantics.
package permissions

import (
	"context"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// Controller checks a (session, entity, action) tuple against every
// registered permissions plugin, in registration order, short-circuiting
// on the first grant.
type Controller struct {
	registry *plugins.Registry
}

// NewController returns a controller dispatching against registry.
func NewController(registry *plugins.Registry) *Controller {
	return &Controller{registry: registry}
}

// IsPermitted grants action on entity for session if any registered
// permissions plugin says so. With no permissions plugins registered,
// every action is granted — an unsecured deployment is a valid deployment.
func (c *Controller) IsPermitted(ctx context.Context, session *model.Session, entity model.Entity, action model.Action) bool {
	registered := c.registry.PermissionsPlugins()
	if len(registered) == 0 {
		return true
	}
	for _, p := range registered {
		if p.IsPermitted(ctx, session, entity, action) {
			return true
		}
	}
	return false
}
