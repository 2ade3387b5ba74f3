// Package auth validates bearer session tokens for the sync server.
//
// Token issuance belongs to the platform's REST side; this package only
// resolves a presented token to an identity or rejects it.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned for any invalid, expired, or unknown token.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the resolved identity attached to an authenticated connection.
type Identity struct {
	UserID      int64
	DisplayName string
	Role        string // "admin" or "user"
}

// Provider validates bearer tokens and returns identities.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Name() string
}
