package auth

import (
	"fmt"

	"github.com/veridoc/veridoc/internal/config"
	"github.com/veridoc/veridoc/internal/store"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(cfg config.AuthConfig, s store.Store) (Provider, error) {
	switch cfg.Provider {
	case "", "store":
		return NewTokenProvider(s), nil
	case "jwt":
		return NewJWTProvider(cfg.JWTSecret, cfg.JWTLeeway.Duration), nil
	case "jwks":
		return NewJWKSProvider(cfg.JWKSIssuer)
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
