// Package api exposes the sync server's HTTP surface: the WebSocket
// endpoint and the health/status probes.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veridoc/veridoc/internal/realtime"
	"github.com/veridoc/veridoc/internal/store"
)

// Server bundles the HTTP routes around the reactor.
type Server struct {
	store   store.Store
	reactor *realtime.Reactor
	logger  *slog.Logger
	started time.Time
}

// NewServer creates the HTTP server facade.
func NewServer(s store.Store, r *realtime.Reactor, logger *slog.Logger) *Server {
	return &Server{
		store:   s,
		reactor: r,
		logger:  logger.With("component", "api"),
		started: time.Now(),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.reactor.HandleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/statusz", s.handleStatusz)

	return r
}

// handleHealthz is a liveness probe: the process is up.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is a readiness probe: the store answers.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStatusz reports reactor counters for operators. The dropped-frames
// counter is the only visibility into silently discarded input.
func (s *Server) handleStatusz(w http.ResponseWriter, _ *http.Request) {
	stats := s.reactor.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections_open": stats.ConnectionsOpen,
		"users_online":     stats.UsersOnline,
		"dropped_frames":   stats.DroppedFrames,
		"uptime_seconds":   int64(time.Since(s.started).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
