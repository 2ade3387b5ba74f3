package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued by the platform for realtime sessions.
type Claims struct {
	UserID      int64  `json:"uid"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 tokens signed with a shared platform secret.
type JWTProvider struct {
	secret []byte
	leeway time.Duration
}

// NewJWTProvider creates a JWT validator with the given secret and clock
// skew tolerance.
func NewJWTProvider(secret string, leeway time.Duration) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), leeway: leeway}
}

// ValidateToken parses and verifies a JWT and returns its identity.
func (p *JWTProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithLeeway(p.leeway), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrUnauthorized
	}

	role := claims.Role
	if role == "" {
		role = "user"
	}

	return &Identity{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        role,
	}, nil
}

// Name returns the provider name.
func (p *JWTProvider) Name() string { return "jwt" }
