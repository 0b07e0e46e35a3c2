package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
	"github.com/dogild/garuda/internal/sdk"
)

// Claims is the JWT payload a JWTPlugin-issued bearer token carries: enough
// to rehydrate the authenticated root object without a storage round trip,
// grounded on the teacher's jwt.go Claims shape.
type Claims struct {
	jwt.RegisteredClaims
	RestName string         `json:"rest_name"`
	Data     map[string]any `json:"data"`
}

// JWTPlugin is a bearer-token AuthenticationPlugin. It manages any request
// carrying an `Authorization: Bearer <token>` header and rehydrates the
// root object from the token's claims via the default SDK bundle.
type JWTPlugin struct {
	plugins.Base
	secret []byte
	expiry time.Duration
	issuer string
	sdk    *sdk.Library
}

// NewJWTPlugin returns a plugin that signs/verifies with secret (at least
// 32 bytes, matching the teacher's minimum) and issues tokens valid for
// expiry.
func NewJWTPlugin(secret []byte, expiry time.Duration, library *sdk.Library) (*JWTPlugin, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if library == nil {
		library = sdk.Global()
	}
	return &JWTPlugin{
		Base:   plugins.NewBase(plugins.Manifest{Name: "jwt.auth", Version: "1.0", Identifier: "jwt.auth"}),
		secret: secret,
		expiry: expiry,
		issuer: "garuda",
		sdk:    library,
	}, nil
}

func (p *JWTPlugin) ShouldManage(req *model.Request) bool {
	return strings.HasPrefix(req.Header("Authorization"), "Bearer ")
}

func (p *JWTPlugin) Authenticate(ctx context.Context, req *model.Request, session *model.Session) (model.Entity, error) {
	tokenString := strings.TrimPrefix(req.Header("Authorization"), "Bearer ")
	if tokenString == "" {
		return nil, errors.New("no bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	factory, ok := p.sdk.Resolve(claims.RestName)
	if !ok {
		return nil, fmt.Errorf("jwt: unknown rest name %q in token", claims.RestName)
	}
	entity := factory()
	if err := entity.FromDict(claims.Data); err != nil {
		return nil, fmt.Errorf("jwt: rehydrate root object: %w", err)
	}
	return entity, nil
}

func (p *JWTPlugin) ExtractSessionIdentifier(req *model.Request) (string, bool) {
	if req.Token == "" {
		return "", false
	}
	return req.Token, true
}

// Issue signs a bearer token for root, embedding enough of its ToDict() to
// rehydrate it on the next Authenticate call.
func (p *JWTPlugin) Issue(root model.Entity) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(p.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    p.issuer,
			Subject:   root.Identifier(),
		},
		RestName: root.RestName(),
		Data:     root.ToDict(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

var _ plugins.AuthenticationPlugin = (*JWTPlugin)(nil)
