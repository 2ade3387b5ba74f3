// Package service is the composition root that ties storage, auth, the
// reactor, and the HTTP surface together.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veridoc/veridoc/internal/api"
	"github.com/veridoc/veridoc/internal/auth"
	"github.com/veridoc/veridoc/internal/config"
	"github.com/veridoc/veridoc/internal/realtime"
	"github.com/veridoc/veridoc/internal/store"
)

// Service is the assembled sync server process.
type Service struct {
	cfg     *config.Config
	store   store.Store
	reactor *realtime.Reactor
	api     *api.Server
	logger  *slog.Logger
}

// New creates a service from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authProvider, err := auth.NewProvider(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	reactor := realtime.NewReactor(db, authProvider, logger, realtime.Options{
		SyncMaxRows:     cfg.Sync.MaxRows,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})

	apiSrv := api.NewServer(db, reactor, logger)

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return &Service{
		cfg:     cfg,
		store:   db,
		reactor: reactor,
		api:     apiSrv,
		logger:  logger.With("component", "service"),
	}, nil
}

// Run starts the reactor and the HTTP server, blocking until the context is
// canceled or the listener fails.
func (s *Service) Run(ctx context.Context) error {
	reactorCtx, stopReactor := context.WithCancel(context.Background())
	defer stopReactor()
	go s.reactor.Run(reactorCtx)

	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("sync server listening", "addr", s.cfg.Server.Addr)
		if s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			s.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		}

		// Stop the reactor after the listener so no new connections arrive
		// while it is closing the existing ones.
		stopReactor()

		s.logger.Info("closing store")
		_ = s.store.Close()
		s.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		stopReactor()
		_ = s.store.Close()
		return err
	}
}
