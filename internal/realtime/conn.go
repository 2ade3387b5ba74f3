// Package realtime implements the sync server core: a single-goroutine
// reactor that owns connection, presence, and fan-out state for all
// WebSocket clients.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veridoc/veridoc/internal/auth"
)

// transport is the minimal write surface of a client connection. It is
// satisfied by *websocket.Conn; tests substitute a recording fake.
type transport interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Conn is one open client connection. It starts unauthenticated; a valid
// auth frame attaches an identity, and transport close is terminal.
//
// The identity field is owned by the reactor goroutine. The write path is
// guarded by a mutex only because transport teardown may race with a final
// reactor write.
type Conn struct {
	id       string
	tr       transport
	identity *auth.Identity

	writeMu sync.Mutex
}

func newConn(tr transport) *Conn {
	return &Conn{id: uuid.New().String(), tr: tr}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Identity returns the attached identity, or nil before authentication.
func (c *Conn) Identity() *auth.Identity { return c.identity }

func (c *Conn) authenticated() bool { return c.identity != nil }

// send marshals v and writes it as one text frame. A send failure affects
// only this connection; callers log and move on.
func (c *Conn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.tr.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) close() {
	_ = c.tr.Close()
}
