package realtime

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/veridoc/veridoc/internal/auth"
	"github.com/veridoc/veridoc/internal/store"
	"github.com/veridoc/veridoc/pkg/protocol"
)

// Options tunes the reactor. Zero values are replaced with defaults.
type Options struct {
	// SyncMaxRows caps each per-kind sync query.
	SyncMaxRows int
	// MaxMessageBytes caps inbound WebSocket frames.
	MaxMessageBytes int64
	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin.
	AllowedOrigins []string
	// EventBuffer sizes the inbound event channel.
	EventBuffer int
}

func (o *Options) applyDefaults() {
	if o.SyncMaxRows <= 0 {
		o.SyncMaxRows = 100
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
}

// eventKind discriminates reactor events.
type eventKind int

const (
	evAttach eventKind = iota
	evFrame
	evDetach
)

// event is one unit of work for the reactor goroutine. Read goroutines
// produce them; exactly one goroutine consumes them.
type event struct {
	kind eventKind
	conn *Conn
	raw  []byte // evFrame only
}

// Reactor serializes all connection, presence, and fan-out state changes
// onto a single goroutine. Per-connection read goroutines feed the events
// channel; handlers run one at a time, so the registry and tracker need no
// locks and handler logic reads as straight-line code.
type Reactor struct {
	opts Options

	registry    *Registry
	presence    *Tracker
	broadcaster *Broadcaster
	snapshotter *Snapshotter
	authority   auth.Provider
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	events chan event
	done   chan struct{}

	connsOpen     atomic.Int64
	usersOnline   atomic.Int64
	droppedFrames atomic.Int64
}

// NewReactor wires the reactor state machine. Call Run to start it.
func NewReactor(s store.Store, authority auth.Provider, logger *slog.Logger, opts Options) *Reactor {
	opts.applyDefaults()
	reg := newRegistry()
	pres := newTracker()
	return &Reactor{
		opts:        opts,
		registry:    reg,
		presence:    pres,
		broadcaster: newBroadcaster(reg, pres, s, logger),
		snapshotter: newSnapshotter(s, opts.SyncMaxRows),
		authority:   authority,
		logger:      logger.With("component", "reactor"),
		upgrader:    makeUpgrader(opts.AllowedOrigins),
		events:      make(chan event, opts.EventBuffer),
		done:        make(chan struct{}),
	}
}

// Run consumes events until ctx is cancelled, then closes every open
// connection. It must be called exactly once.
func (r *Reactor) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

// enqueue hands an event to the reactor. After shutdown events are
// discarded; the producing read goroutine is about to exit anyway.
func (r *Reactor) enqueue(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// handle dispatches one event. A panicking handler is contained here so a
// malformed frame can never take down the reactor loop.
func (r *Reactor) handle(ev event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic", "conn_id", ev.conn.id, "panic", rec)
		}
	}()

	switch ev.kind {
	case evAttach:
		r.handleAttach(ev.conn)
	case evFrame:
		r.handleFrame(ev.conn, ev.raw)
	case evDetach:
		r.handleDetach(ev.conn)
	}
}

func (r *Reactor) handleAttach(c *Conn) {
	r.registry.attach(c)
	r.connsOpen.Store(int64(r.registry.len()))
	r.logger.Debug("connection attached", "conn_id", c.id)
}

// handleDetach tears down a connection: registry removal, presence
// bookkeeping, and an offline broadcast when the last connection of a user
// closes.
func (r *Reactor) handleDetach(c *Conn) {
	if !r.registry.detach(c) {
		return
	}
	r.connsOpen.Store(int64(r.registry.len()))

	userID, last := r.presence.unregister(c.id)
	r.usersOnline.Store(int64(r.presence.onlineCount()))
	if last {
		r.broadcastPresence(userID, "offline", c)
	}
	r.logger.Debug("connection detached", "conn_id", c.id, "user_id", userID)
}

// broadcastPresence announces a status change to every other authenticated
// connection. The originating connection is excluded; it learned the status
// from its own action.
func (r *Reactor) broadcastPresence(userID int64, status string, origin *Conn) {
	r.broadcaster.sendToAllAuthenticated(origin, &protocol.PresenceUpdate{
		Type:      protocol.TypePresenceUpdate,
		UserID:    userID,
		Status:    status,
		Timestamp: nowUTC(),
	})
}

func (r *Reactor) shutdown() {
	for _, c := range r.registry.conns {
		c.close()
	}
	r.logger.Info("reactor stopped", "connections_closed", r.registry.len())
}

// Stats is a point-in-time snapshot of reactor counters for /statusz.
type Stats struct {
	ConnectionsOpen int64 `json:"connections_open"`
	UsersOnline     int64 `json:"users_online"`
	DroppedFrames   int64 `json:"dropped_frames"`
}

// Stats is safe to call from any goroutine.
func (r *Reactor) Stats() Stats {
	return Stats{
		ConnectionsOpen: r.connsOpen.Load(),
		UsersOnline:     r.usersOnline.Load(),
		DroppedFrames:   r.droppedFrames.Load(),
	}
}
