// Package auth holds the reference AuthenticationPlugin implementations:
// a fixed-identity dev plugin, a JWT bearer plugin and an OIDC plugin.
package auth

import (
	"context"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// rootEntity is the minimal model.Entity the dev/fake plugin hands back as
// the authenticated principal, grounded on original_source's
// tests/helpers/fake_auth_plugin.py FakeAuthPlugin which returns a bare
// NURESTRootObject with id/api_key/user_name set.
type rootEntity struct {
	id       string
	apiKey   string
	userName string
}

func (r *rootEntity) RestName() string    { return "user" }
func (r *rootEntity) Identifier() string  { return r.id }
func (r *rootEntity) SetIdentifier(id string) { r.id = id }
func (r *rootEntity) Owner() string       { return r.id }
func (r *rootEntity) ParentType() string  { return "" }
func (r *rootEntity) ParentID() string    { return "" }
func (r *rootEntity) SetParent(string, string) {}
func (r *rootEntity) ChildrenRestNames() []string { return nil }
func (r *rootEntity) FetcherForRestName(string) (model.Relationship, bool) {
	return model.Relationship{}, false
}
func (r *rootEntity) ToDict() map[string]any {
	return map[string]any{"id": r.id, "api_key": r.apiKey, "user_name": r.userName}
}
func (r *rootEntity) FromDict(d map[string]any) error {
	if v, ok := d["id"].(string); ok {
		r.id = v
	}
	if v, ok := d["api_key"].(string); ok {
		r.apiKey = v
	}
	if v, ok := d["user_name"].(string); ok {
		r.userName = v
	}
	return nil
}
func (r *rootEntity) Validate() *model.ErrorList { return model.NewErrorList() }
func (r *rootEntity) RestEquals(other model.Entity) bool {
	o, ok := other.(*rootEntity)
	return ok && o.id == r.id
}

// DevPlugin is a fixed-identity AuthenticationPlugin for development and
// test harnesses: it manages every request and authenticates anyone.
type DevPlugin struct {
	plugins.Base
	UserID   string
	APIKey   string
	UserName string
}

// NewDevPlugin returns a dev plugin that authenticates every request as the
// same fixed principal.
func NewDevPlugin(userID, apiKey, userName string) *DevPlugin {
	return &DevPlugin{
		Base:     plugins.NewBase(plugins.Manifest{Name: "dev.auth", Version: "1.0", Identifier: "dev.auth"}),
		UserID:   userID,
		APIKey:   apiKey,
		UserName: userName,
	}
}

func (p *DevPlugin) ShouldManage(req *model.Request) bool { return true }

func (p *DevPlugin) Authenticate(ctx context.Context, req *model.Request, session *model.Session) (model.Entity, error) {
	return &rootEntity{id: p.UserID, apiKey: p.APIKey, userName: p.UserName}, nil
}

func (p *DevPlugin) ExtractSessionIdentifier(req *model.Request) (string, bool) {
	if req.Token == "" {
		return "", false
	}
	return req.Token, true
}

var _ plugins.AuthenticationPlugin = (*DevPlugin)(nil)
