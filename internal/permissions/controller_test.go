package permissions

import (
	"context"
	"testing"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

type grantPlugin struct{ plugins.Base }

func (grantPlugin) IsPermitted(ctx context.Context, session *model.Session, entity model.Entity, action model.Action) bool {
	return true
}

type denyPlugin struct{ plugins.Base }

func (denyPlugin) IsPermitted(ctx context.Context, session *model.Session, entity model.Entity, action model.Action) bool {
	return false
}

func TestController_NoPluginsGrantsByDefault(t *testing.T) {
	c := NewController(plugins.NewRegistry())
	if !c.IsPermitted(context.Background(), nil, nil, model.ActionRead) {
		t.Fatal("expected grant when no permissions plugins are registered")
	}
}

func TestController_GrantsIfAnyPluginGrants(t *testing.T) {
	registry := plugins.NewRegistry()
	registry.RegisterPermissions(&denyPlugin{Base: plugins.NewBase(plugins.Manifest{Identifier: "deny"})})
	registry.RegisterPermissions(&grantPlugin{Base: plugins.NewBase(plugins.Manifest{Identifier: "grant"})})

	c := NewController(registry)
	if !c.IsPermitted(context.Background(), nil, nil, model.ActionRead) {
		t.Fatal("expected grant when at least one plugin grants")
	}
}

func TestController_DeniesIfAllPluginsDeny(t *testing.T) {
	registry := plugins.NewRegistry()
	registry.RegisterPermissions(&denyPlugin{Base: plugins.NewBase(plugins.Manifest{Identifier: "deny-1"})})
	registry.RegisterPermissions(&denyPlugin{Base: plugins.NewBase(plugins.Manifest{Identifier: "deny-2"})})

	c := NewController(registry)
	if c.IsPermitted(context.Background(), nil, nil, model.ActionRead) {
		t.Fatal("expected denial when every plugin denies")
	}
}
