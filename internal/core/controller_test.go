package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/dogild/garuda/internal/logic"
	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/operations"
	"github.com/dogild/garuda/internal/permissions"
	"github.com/dogild/garuda/internal/plugins"
	permissionplugins "github.com/dogild/garuda/internal/plugins/permissions"
	storageplugins "github.com/dogild/garuda/internal/plugins/storage"
	"github.com/dogild/garuda/internal/push"
	"github.com/dogild/garuda/internal/ratelimit"
	"github.com/dogild/garuda/internal/redisstore"
	"github.com/dogild/garuda/internal/sdk"
	"github.com/dogild/garuda/internal/sessions"
	"github.com/dogild/garuda/internal/storage"
	"golang.org/x/time/rate"
)

type principal struct {
	id, name string
}

func (p *principal) RestName() string                                         { return "users" }
func (p *principal) Identifier() string                                       { return p.id }
func (p *principal) SetIdentifier(id string)                                  { p.id = id }
func (p *principal) Owner() string                                            { return p.id }
func (p *principal) ParentType() string                                       { return "" }
func (p *principal) ParentID() string                                         { return "" }
func (p *principal) SetParent(restName, id string)                           {}
func (p *principal) ChildrenRestNames() []string                             { return []string{"enterprises"} }
func (p *principal) FetcherForRestName(name string) (model.Relationship, bool) {
	if name == "enterprises" {
		return model.Relationship{RestName: "enterprises"}, true
	}
	return model.Relationship{}, false
}
func (p *principal) ToDict() map[string]any { return map[string]any{"id": p.id, "name": p.name} }
func (p *principal) FromDict(d map[string]any) error {
	if v, ok := d["id"].(string); ok {
		p.id = v
	}
	if v, ok := d["name"].(string); ok {
		p.name = v
	}
	return nil
}
func (p *principal) Validate() *model.ErrorList { return model.NewErrorList() }
func (p *principal) RestEquals(other model.Entity) bool {
	o, ok := other.(*principal)
	return ok && o.id == p.id
}

type enterprise struct {
	id, name, owner string
}

func (e *enterprise) RestName() string                                         { return "enterprises" }
func (e *enterprise) Identifier() string                                       { return e.id }
func (e *enterprise) SetIdentifier(id string)                                  { e.id = id }
func (e *enterprise) Owner() string                                            { return e.owner }
func (e *enterprise) ParentType() string                                       { return "" }
func (e *enterprise) ParentID() string                                        { return "" }
func (e *enterprise) SetParent(restName, id string)                          {}
func (e *enterprise) ChildrenRestNames() []string                            { return nil }
func (e *enterprise) FetcherForRestName(name string) (model.Relationship, bool) {
	return model.Relationship{}, false
}
func (e *enterprise) ToDict() map[string]any {
	return map[string]any{"id": e.id, "name": e.name, "owner": e.owner}
}
func (e *enterprise) FromDict(d map[string]any) error {
	if v, ok := d["name"].(string); ok {
		e.name = v
	}
	if v, ok := d["owner"].(string); ok {
		e.owner = v
	}
	return nil
}
func (e *enterprise) Validate() *model.ErrorList { return model.NewErrorList() }
func (e *enterprise) RestEquals(other model.Entity) bool {
	o, ok := other.(*enterprise)
	return ok && o.id == e.id
}

// fakeAuthPlugin manages any request carrying a non-empty Token, minting a
// fixed principal. Grounded on original_source/tests/helpers/fake_auth_plugin.py.
type fakeAuthPlugin struct {
	plugins.Base
}

func newFakeAuthPlugin() *fakeAuthPlugin {
	return &fakeAuthPlugin{Base: plugins.NewBase(plugins.Manifest{Identifier: "fake.auth"})}
}

func (p *fakeAuthPlugin) ShouldManage(req *model.Request) bool { return req.Token != "" }
func (p *fakeAuthPlugin) Authenticate(ctx context.Context, req *model.Request, session *model.Session) (model.Entity, error) {
	return &principal{id: "user", name: req.Token}, nil
}
func (p *fakeAuthPlugin) ExtractSessionIdentifier(req *model.Request) (string, bool) {
	return req.Header("X-Session"), req.Header("X-Session") != ""
}

// ownerDefaultingLogic sets a newly created entity's owner to the session's
// root identifier when the request didn't supply one, the business rule a
// real deployment's own logic plugin would configure — not a framework
// invariant, so it lives in the test fixture rather than internal/logic.
type ownerDefaultingLogic struct {
	plugins.Base
}

func (l *ownerDefaultingLogic) Preprocess(ctx context.Context, action model.Action, rc *model.Context) {
	if action != model.ActionCreate || rc.Object == nil || rc.Session == nil || rc.Session.RootObject == nil {
		return
	}
	if rc.Object.Owner() == "" {
		rc.Object.FromDict(map[string]any{"owner": rc.Session.RootObject.Identifier()})
	}
}

type testRig struct {
	core *Controller
	mr   *miniredis.Miniredis
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := redisstore.Open(context.Background(), redisstore.Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redisstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	library := sdk.NewLibrary()
	library.Register(sdk.DefaultIdentifier, &sdk.Bundle{
		RootObjectFactory: func() model.Entity { return &principal{} },
		Resolve: func(restName string) (sdk.EntityFactory, bool) {
			switch restName {
			case "users":
				return func() model.Entity { return &principal{} }, true
			case "enterprises":
				return func() model.Entity { return &enterprise{} }, true
			}
			return nil, false
		},
	})

	registry := plugins.NewRegistry()
	registry.RegisterStorage(storageplugins.NewMemoryStorage(library, "enterprises"))
	registry.RegisterPermissions(permissionplugins.NewOwnerPlugin())
	registry.RegisterAuthentication(newFakeAuthPlugin())
	registry.RegisterLogic(&ownerDefaultingLogic{Base: plugins.NewBase(plugins.Manifest{Identifier: "owner.default"})})

	storageCtl := storage.NewController(registry)
	permissionsCtl := permissions.NewController(registry)
	logicCtl := logic.NewController(registry, logic.DefaultDeadline)
	operationsCtl := operations.NewController(storageCtl, permissionsCtl, logicCtl)
	sessionsCtl := sessions.NewController(store, library, 200*time.Millisecond)
	pushCtl := push.NewController(store.Client, permissionsCtl)

	c := NewController("worker-1", registry, operationsCtl, sessionsCtl, pushCtl)
	return &testRig{core: c, mr: mr}
}

func TestController_ExecuteModelRequest_FirstContactReturnsRootObject(t *testing.T) {
	rig := newTestRig(t)
	req := &model.Request{Method: "POST", Token: "tok-1"}

	resp := rig.core.ExecuteModelRequest(context.Background(), req, "/enterprises")
	if !resp.Success {
		t.Fatalf("expected success on first contact, got %+v", resp.Errors)
	}
	if resp.Entity.RestName() != "users" {
		t.Fatalf("expected the root object itself as the body, got rest name %s", resp.Entity.RestName())
	}
}

func TestController_ExecuteModelRequest_UnauthenticatedIsUnauthorized(t *testing.T) {
	rig := newTestRig(t)
	req := &model.Request{Method: "GET"}

	resp := rig.core.ExecuteModelRequest(context.Background(), req, "/enterprises")
	if resp.Success || resp.Status != model.ErrorTypeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got success=%v status=%s", resp.Success, resp.Status)
	}
}

func TestController_ExecuteModelRequest_EstablishedSessionRunsOperations(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	authResp := rig.core.ExecuteModelRequest(ctx, &model.Request{Method: "POST", Token: "tok-2"}, "/enterprises")
	if !authResp.Success {
		t.Fatalf("authentication failed: %+v", authResp.Errors)
	}

	liveSessions := rig.core.sessions.AllSessions(ctx)
	if len(liveSessions) != 1 {
		t.Fatalf("expected exactly one session to exist, got %d", len(liveSessions))
	}
	sessionUUID := liveSessions[0].UUID

	createReq := &model.Request{Method: "POST", Data: map[string]any{"name": "acme"}, Headers: map[string]string{"X-Session": sessionUUID}}
	createResp := rig.core.ExecuteModelRequest(ctx, createReq, "/enterprises")
	if !createResp.Success {
		t.Fatalf("expected CREATE to succeed, got %+v", createResp.Errors)
	}
	if createResp.Entity.Owner() != "user" {
		t.Fatalf("expected created entity's owner to default to the session's root id, got %q", createResp.Entity.Owner())
	}
}

func TestController_ExecuteEventsRequest_InvalidTokenIsUnauthorized(t *testing.T) {
	rig := newTestRig(t)
	session, resp := rig.core.ExecuteEventsRequest(context.Background(), &model.Request{Token: "no-such-session"})
	if session != nil || resp == nil || resp.Status != model.ErrorTypeUnauthorized {
		t.Fatalf("expected a nil session and an UNAUTHORIZED response, got session=%v resp=%+v", session, resp)
	}
}

func TestController_RateLimiterThrottlesExcessRequests(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.core.SetRateLimiter(ratelimit.New(rate.Limit(1), 1))

	authResp := rig.core.ExecuteModelRequest(ctx, &model.Request{Method: "POST", Token: "tok-3"}, "/enterprises")
	if !authResp.Success {
		t.Fatalf("authentication failed: %+v", authResp.Errors)
	}
	liveSessions := rig.core.sessions.AllSessions(ctx)
	sessionUUID := liveSessions[len(liveSessions)-1].UUID

	readReq := &model.Request{Method: "GET", Headers: map[string]string{"X-Session": sessionUUID}}
	if !rig.core.ExecuteModelRequest(ctx, readReq, "/enterprises").Success {
		t.Fatal("expected the first read within burst to succeed")
	}
	resp := rig.core.ExecuteModelRequest(ctx, readReq, "/enterprises")
	if resp.Success || resp.Status != model.ErrorTypeNotAllowed {
		t.Fatalf("expected the second immediate read to be throttled, got success=%v status=%s", resp.Success, resp.Status)
	}
}

func TestController_StartStopIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if err := rig.core.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := rig.core.Start(ctx); err == nil {
		t.Fatal("expected a second Start to error")
	}
	rig.core.Stop()
	rig.core.Stop() // no-op, must not panic
}
