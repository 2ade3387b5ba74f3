package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSProvider validates JWTs issued by an external identity provider,
// fetching signing keys from the issuer's JWKS endpoint.
type JWKSProvider struct {
	issuer string
	jwks   keyfunc.Keyfunc
}

// NewJWKSProvider creates a provider that fetches JWKS from the issuer.
func NewJWKSProvider(issuer string) (*JWKSProvider, error) {
	if issuer == "" {
		return nil, fmt.Errorf("jwks issuer URL is required")
	}

	jwksURL := issuer + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSProvider{issuer: issuer, jwks: jwks}, nil
}

// ValidateToken parses an IdP-issued JWT and returns an Identity. The
// subject claim must be the numeric platform user id.
func (p *JWKSProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID == 0 {
		return nil, ErrUnauthorized
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = "user"
	}

	name, _ := claims["name"].(string)
	if name == "" {
		name, _ = claims["email"].(string)
	}

	return &Identity{
		UserID:      userID,
		DisplayName: name,
		Role:        role,
	}, nil
}

// Name returns the provider name.
func (p *JWKSProvider) Name() string { return "jwks" }
