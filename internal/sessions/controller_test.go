package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
	"github.com/dogild/garuda/internal/redisstore"
	"github.com/dogild/garuda/internal/sdk"
)

type fakeRoot struct {
	id, name string
}

func (f *fakeRoot) RestName() string                                         { return "users" }
func (f *fakeRoot) Identifier() string                                       { return f.id }
func (f *fakeRoot) SetIdentifier(id string)                                  { f.id = id }
func (f *fakeRoot) Owner() string                                            { return f.id }
func (f *fakeRoot) ParentType() string                                       { return "" }
func (f *fakeRoot) ParentID() string                                         { return "" }
func (f *fakeRoot) SetParent(restName, id string)                           {}
func (f *fakeRoot) ChildrenRestNames() []string                             { return nil }
func (f *fakeRoot) FetcherForRestName(name string) (model.Relationship, bool) { return model.Relationship{}, false }
func (f *fakeRoot) ToDict() map[string]any                                  { return map[string]any{"id": f.id, "name": f.name} }
func (f *fakeRoot) FromDict(d map[string]any) error {
	if v, ok := d["id"].(string); ok {
		f.id = v
	}
	if v, ok := d["name"].(string); ok {
		f.name = v
	}
	return nil
}
func (f *fakeRoot) Validate() *model.ErrorList { return model.NewErrorList() }
func (f *fakeRoot) RestEquals(other model.Entity) bool {
	o, ok := other.(*fakeRoot)
	return ok && o.id == f.id
}

func newTestController(t *testing.T) (*Controller, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := redisstore.Open(context.Background(), redisstore.Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redisstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	library := sdk.NewLibrary()
	library.Register(sdk.DefaultIdentifier, &sdk.Bundle{
		RootObjectFactory: func() model.Entity { return &fakeRoot{} },
		Resolve: func(restName string) (sdk.EntityFactory, bool) {
			if restName == "users" {
				return func() model.Entity { return &fakeRoot{} }, true
			}
			return nil, false
		},
	})

	return NewController(store, library, 200*time.Millisecond), mr
}

func TestController_CreateAndGetSessionRehydratesRoot(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	root := &fakeRoot{id: "u1", name: "ada"}
	session, err := c.CreateSession(ctx, "garuda-1", root)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := c.GetSession(ctx, session.UUID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.GarudaUUID != "garuda-1" {
		t.Errorf("garuda uuid = %s, want garuda-1", got.GarudaUUID)
	}
	rehydrated, ok := got.RootObject.(*fakeRoot)
	if !ok {
		t.Fatalf("expected rehydrated root object to be a *fakeRoot, got %T", got.RootObject)
	}
	if rehydrated.name != "ada" {
		t.Errorf("rehydrated name = %q, want ada", rehydrated.name)
	}
}

func TestController_ResetSessionTTLOnMissingSessionErrors(t *testing.T) {
	c, _ := newTestController(t)
	if err := c.ResetSessionTTL(context.Background(), "no-such-session"); err == nil {
		t.Fatal("expected an error resetting the TTL of a session that doesn't exist")
	}
}

func TestController_WatchExpiryInvokesOnExpireCallback(t *testing.T) {
	c, mr := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := &fakeRoot{id: "u2"}
	session, err := c.CreateSession(ctx, "garuda-2", root)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	expired := make(chan string, 1)
	c.OnExpire(func(ctx context.Context, uuid string) {
		expired <- uuid
	})

	c.Start(ctx)
	defer c.Stop()

	// Give the subscription goroutine a moment to attach before the key
	// expires, then fast-forward miniredis's clock past the TTL.
	time.Sleep(50 * time.Millisecond)
	mr.FastForward(300 * time.Millisecond)

	select {
	case uuid := <-expired:
		if uuid != session.UUID {
			t.Errorf("expired uuid = %s, want %s", uuid, session.UUID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the expiry callback")
	}
}

func TestExtractSessionIdentifier_FirstMatchWins(t *testing.T) {
	never := &fakeAuthPlugin{id: "", ok: false}
	found := &fakeAuthPlugin{id: "sess-xyz", ok: true}

	id, ok := ExtractSessionIdentifier([]plugins.AuthenticationPlugin{never, found}, &model.Request{})
	if !ok || id != "sess-xyz" {
		t.Fatalf("got (%q, %v), want (sess-xyz, true)", id, ok)
	}
}

type fakeAuthPlugin struct {
	plugins.Base
	id string
	ok bool
}

func (p fakeAuthPlugin) ShouldManage(req *model.Request) bool { return true }
func (p fakeAuthPlugin) Authenticate(ctx context.Context, req *model.Request, session *model.Session) (model.Entity, error) {
	return nil, nil
}
func (p fakeAuthPlugin) ExtractSessionIdentifier(req *model.Request) (string, bool) {
	return p.id, p.ok
}
