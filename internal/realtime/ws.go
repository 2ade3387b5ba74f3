package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// HandleWS upgrades the request and runs the connection's read loop. The
// loop is the only reader of the socket; every parsed frame is forwarded to
// the reactor goroutine, which owns all shared state.
func (r *Reactor) HandleWS(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = ws.Close() }()
	ws.SetReadLimit(r.opts.MaxMessageBytes)

	c := newConn(ws)
	r.enqueue(event{kind: evAttach, conn: c})
	defer r.enqueue(event{kind: evDetach, conn: c})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Debug("websocket read error", "conn_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		r.enqueue(event{kind: evFrame, conn: c, raw: data})
	}
}
