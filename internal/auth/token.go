package auth

import (
	"context"
	"fmt"

	"github.com/veridoc/veridoc/internal/store"
)

// TokenProvider validates opaque session tokens against the platform store.
// A token is valid iff it exists and has not expired.
type TokenProvider struct {
	store store.Store
}

// NewTokenProvider creates a store-backed token validator.
func NewTokenProvider(s store.Store) *TokenProvider {
	return &TokenProvider{store: s}
}

// ValidateToken looks the token up in the store and returns its identity.
func (p *TokenProvider) ValidateToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	ti, err := p.store.GetTokenIdentity(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if ti == nil {
		return nil, ErrUnauthorized
	}
	return &Identity{
		UserID:      ti.UserID,
		DisplayName: ti.DisplayName,
		Role:        ti.Role,
	}, nil
}

// Name returns the provider name.
func (p *TokenProvider) Name() string { return "store" }
