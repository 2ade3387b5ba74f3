// Package config handles sync server configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level sync server configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
	Sync    SyncConfig    `json:"sync"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr            string   `json:"addr"`                        // e.g. ":8090"
	TLSCert         string   `json:"tls_cert,omitempty"`
	TLSKey          string   `json:"tls_key,omitempty"`
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`   // WebSocket origin allow-list; default ["*"]
	MaxMessageBytes int64    `json:"max_message_bytes,omitempty"` // max inbound WebSocket frame; default 64KB
}

// AuthConfig defines how bearer tokens are validated.
type AuthConfig struct {
	Provider   string   `json:"provider,omitempty"`    // "store" (default), "jwt", or "jwks"
	JWTSecret  string   `json:"jwt_secret,omitempty"`  // HS256 secret for the jwt provider
	JWTLeeway  Duration `json:"jwt_leeway,omitempty"`  // clock skew tolerance; default 30s
	JWKSIssuer string   `json:"jwks_issuer,omitempty"` // issuer base URL for the jwks provider
}

// StorageConfig defines database settings for the platform store.
// The sync server queries it read-only except for notification rows.
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // e.g. "veridoc.db" or a postgres URL
}

// SyncConfig defines sync snapshot behavior.
type SyncConfig struct {
	MaxRows int `json:"max_rows,omitempty"` // per-kind row cap; default 100
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides config values from the environment. The deployment
// environment supplies store connection parameters and the listen address.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("VERIDOC_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("VERIDOC_DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("VERIDOC_DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("VERIDOC_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("VERIDOC_SYNC_MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.MaxRows = n
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Auth.Provider {
	case "", "store":
	case "jwt":
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
		}
	case "jwks":
		if c.Auth.JWKSIssuer == "" {
			return fmt.Errorf("auth.jwks_issuer is required when provider is jwks")
		}
	default:
		return fmt.Errorf("unknown auth provider: %q", c.Auth.Provider)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Provider == "" {
		c.Auth.Provider = "store"
	}
	if c.Auth.JWTLeeway.Duration == 0 {
		c.Auth.JWTLeeway.Duration = 30 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "veridoc.db"
	}
	if c.Sync.MaxRows == 0 {
		c.Sync.MaxRows = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Server.MaxMessageBytes == 0 {
		c.Server.MaxMessageBytes = 64 * 1024 // 64KB
	}
}
