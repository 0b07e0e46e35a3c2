package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
	"github.com/dogild/garuda/internal/sdk"
)

// OIDCConfig configures an OIDCPlugin against any OIDC-compliant issuer
// (Auth0, Keycloak, Entra ID, Okta, ...), grounded on the teacher's
// oidc.go Initialize contract.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	RootRestName string // SDK rest name the verified ID token claims populate
}

// OIDCPlugin is an AuthenticationPlugin that verifies OIDC ID tokens
// presented as bearer credentials and rehydrates the root object from
// their standard claims (sub, email, name) via the default SDK bundle.
type OIDCPlugin struct {
	plugins.Base
	cfg      OIDCConfig
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   oauth2.Config
	sdk      *sdk.Library
}

// NewOIDCPlugin discovers the issuer's OIDC metadata and builds a verifier.
// ctx bounds only the discovery round trip.
func NewOIDCPlugin(ctx context.Context, cfg OIDCConfig, library *sdk.Library) (*OIDCPlugin, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc: discover %s: %w", cfg.Issuer, err)
	}
	if library == nil {
		library = sdk.Global()
	}
	if cfg.RootRestName == "" {
		cfg.RootRestName = "user"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDCPlugin{
		Base:     plugins.NewBase(plugins.Manifest{Name: "oidc.auth", Version: "1.0", Identifier: "oidc.auth"}),
		cfg:      cfg,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		sdk: library,
	}, nil
}

// AuthCodeURL returns the provider's login URL for the given CSRF state.
func (p *OIDCPlugin) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

// Exchange trades an OAuth2 authorization code for tokens.
func (p *OIDCPlugin) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.oauth2.Exchange(ctx, code)
}

func (p *OIDCPlugin) ShouldManage(req *model.Request) bool {
	return strings.HasPrefix(req.Header("Authorization"), "Bearer ")
}

func (p *OIDCPlugin) Authenticate(ctx context.Context, req *model.Request, session *model.Session) (model.Entity, error) {
	rawIDToken := strings.TrimPrefix(req.Header("Authorization"), "Bearer ")
	if rawIDToken == "" {
		return nil, fmt.Errorf("oidc: no bearer token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("oidc: verify id token: %w", err)
	}

	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc: decode claims: %w", err)
	}

	factory, ok := p.sdk.Resolve(p.cfg.RootRestName)
	if !ok {
		return nil, fmt.Errorf("oidc: unknown root rest name %q", p.cfg.RootRestName)
	}
	entity := factory()
	if err := entity.FromDict(map[string]any{
		"id":    claims.Subject,
		"email": claims.Email,
		"name":  claims.Name,
	}); err != nil {
		return nil, fmt.Errorf("oidc: rehydrate root object: %w", err)
	}
	return entity, nil
}

func (p *OIDCPlugin) ExtractSessionIdentifier(req *model.Request) (string, bool) {
	if req.Token == "" {
		return "", false
	}
	return req.Token, true
}

var _ plugins.AuthenticationPlugin = (*OIDCPlugin)(nil)
