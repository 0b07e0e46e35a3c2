// Package plugins defines the five plugin variants Garuda dispatches to
// (channel, authentication, storage, permissions, logic) and the ordered
// registry each variant is kept in. It is intentionally independent of
// internal/core: a plugin's back-reference to its owning core controller is
// a plain interface value, set on registration and cleared to nil on
// unregistration, mirroring the original source's
// `plugin.core_controller = None` on unregister.
package plugins

import (
	"context"

	"github.com/dogild/garuda/internal/model"
)

// PluginType is the category a plugin registers under. Identifiers are
// unique within a type, not across types.
type PluginType string

const (
	TypeChannel        PluginType = "channel"
	TypeAuthentication PluginType = "authentication"
	TypeStorage        PluginType = "storage"
	TypePermissions    PluginType = "permissions"
	TypeLogic          PluginType = "logic"
)

// Manifest identifies a plugin instance.
type Manifest struct {
	Name       string
	Version    string
	Identifier string
}

// Core is the weak back-reference a plugin may hold to its owning core
// controller after DidRegister. It carries no methods here — concrete
// plugins that actually need to call back into the core type-assert to
// *core.Controller themselves, keeping this package free of an import
// cycle with internal/core.
type Core interface{}

// Plugin is the lifecycle contract every variant embeds. SetCore is called
// once with the owning core controller immediately before WillRegister, and
// again with nil immediately after DidUnregister — the Go shape of the
// original source's `plugin.core_controller = ...` field assignment.
type Plugin interface {
	Manifest() Manifest
	SetCore(core Core)
	WillRegister()
	DidRegister()
	WillUnregister()
	DidUnregister()
}

// ChannelPlugin decodes/encodes one transport and drives the Core
// Controller's request entry points from it.
type ChannelPlugin interface {
	Plugin
	Run(ctx context.Context) error
	Stop()
	DidFork()
	DidExit()
}

// AuthenticationPlugin authenticates a Request into a root-object Entity,
// and recognizes session identifiers it previously issued.
type AuthenticationPlugin interface {
	Plugin
	ShouldManage(req *model.Request) bool
	Authenticate(ctx context.Context, req *model.Request, session *model.Session) (model.Entity, error)
	ExtractSessionIdentifier(req *model.Request) (string, bool)
}

// StorageProvider persists entities for the rest-names it claims via
// ShouldManage.
type StorageProvider interface {
	Plugin
	ShouldManage(restName, identifier string) bool
	Instantiate(restName string) (model.Entity, error)
	Get(ctx context.Context, restName, identifier string, filter string) (model.Entity, error)
	GetAll(ctx context.Context, parent model.Entity, restName string, page, pageSize int, filter, orderBy string) ([]model.Entity, int, error)
	Count(ctx context.Context, parent model.Entity, restName string, filter string) (int, error)
	Create(ctx context.Context, entity model.Entity, parent model.Entity) error
	Update(ctx context.Context, entity model.Entity) error
	Delete(ctx context.Context, entity model.Entity, cascade bool) error
	Assign(ctx context.Context, restName string, entities []model.Entity, parent model.Entity) error
}

// PermissionsPlugin grants or denies one (session, entity, action) tuple.
type PermissionsPlugin interface {
	Plugin
	IsPermitted(ctx context.Context, session *model.Session, entity model.Entity, action model.Action) bool
}

// LogicPlugin implements any subset of the named pipeline hooks. Each
// method receives a per-invocation Context copy; the logic controller
// discovers which hooks a plugin implements via the optional interfaces
// below rather than reflection, matching Go's static-dispatch idiom in
// place of the original source's getattr(plugin, hook_name).
type LogicPlugin interface {
	Plugin
}

// BeginOperationHook runs first in the hook order.
type BeginOperationHook interface {
	BeginOperation(ctx context.Context, rc *model.Context)
}

// ShouldPerformHook gates the pipeline before storage executes; any error
// added to rc.Errors aborts the pipeline.
type ShouldPerformHook interface {
	ShouldPerform(ctx context.Context, action model.Action, rc *model.Context)
}

// PreprocessHook runs after permission/should-perform checks, before
// storage executes.
type PreprocessHook interface {
	Preprocess(ctx context.Context, action model.Action, rc *model.Context)
}

// PostprocessHook runs after storage executes.
type PostprocessHook interface {
	Postprocess(ctx context.Context, action model.Action, rc *model.Context)
}

// EndOperationHook runs last in the hook order.
type EndOperationHook interface {
	EndOperation(ctx context.Context, rc *model.Context)
}
