package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veridoc/veridoc/internal/auth"
	"github.com/veridoc/veridoc/internal/store"
	"github.com/veridoc/veridoc/pkg/protocol"
)

func nowUTC() time.Time { return time.Now().UTC() }

// handleFrame classifies and dispatches one inbound frame. Frames that
// fail classification are dropped without a response; the dropped counter
// keeps the failure mode observable.
func (r *Reactor) handleFrame(c *Conn, raw []byte) {
	frameType := protocol.Classify(raw)
	if frameType == protocol.FrameUnknown {
		r.dropFrame(c, raw)
		return
	}

	switch frameType {
	case protocol.FrameAuth:
		r.handleAuth(c, raw)
	case protocol.FrameSync:
		r.handleSync(c, raw)
	case protocol.FrameNotification:
		r.handleNotification(c, raw)
	case protocol.FramePresence:
		r.handlePresence(c, raw)
	case protocol.FrameDocumentUpdate:
		r.handleDocumentUpdate(c, raw)
	case protocol.FrameTicketUpdate:
		r.handleTicketUpdate(c, raw)
	case protocol.FrameEventUpdate:
		r.handleEventUpdate(c, raw)
	case protocol.FramePing:
		r.handlePing(c)
	}
}

func (r *Reactor) dropFrame(c *Conn, raw []byte) {
	r.droppedFrames.Add(1)
	r.logger.Debug("dropped frame", "conn_id", c.id, "bytes", len(raw))
}

// requireAuth gates every frame except auth and ping. The rejection goes
// to the offending connection only.
func (r *Reactor) requireAuth(c *Conn) bool {
	if c.authenticated() {
		return true
	}
	if err := c.send(&protocol.ErrorMessage{Type: protocol.TypeError, Message: "Not authenticated"}); err != nil {
		r.logger.Debug("send failed", "conn_id", c.id, "error", err)
	}
	return false
}

// handleAuth validates the supplied token and binds the resolved identity
// to the connection. Re-authentication replaces the identity in place; only
// a genuine offline→online transition is broadcast.
func (r *Reactor) handleAuth(c *Conn, raw []byte) {
	var frame protocol.AuthFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.dropFrame(c, raw)
		return
	}

	identity, err := r.authority.ValidateToken(context.Background(), frame.Token)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthorized) {
			r.logger.Error("token validation failed", "conn_id", c.id, "error", err)
		}
		r.sendTo(c, &protocol.AuthError{Type: protocol.TypeAuthError, Message: "Invalid or expired token"})
		return
	}

	// Re-auth as a different user releases the old presence entry first.
	if prev := c.identity; prev != nil && prev.UserID != identity.UserID {
		if userID, last := r.presence.unregister(c.id); last {
			r.broadcastPresence(userID, "offline", c)
		}
	}

	c.identity = identity
	first := r.presence.register(identity.UserID, c.id)
	r.usersOnline.Store(int64(r.presence.onlineCount()))

	r.sendTo(c, &protocol.AuthSuccess{
		Type: protocol.TypeAuthSuccess,
		User: protocol.UserInfo{
			ID:          identity.UserID,
			DisplayName: identity.DisplayName,
			Role:        identity.Role,
		},
	})

	if first {
		r.broadcastPresence(identity.UserID, "online", c)
	}
	r.logger.Info("connection authenticated",
		"conn_id", c.id, "user_id", identity.UserID, "provider", r.authority.Name())
}

// handleSync answers a delta request for the connection's user. The auth
// gate runs before any store work so unauthenticated clients cost nothing.
func (r *Reactor) handleSync(c *Conn, raw []byte) {
	if !r.requireAuth(c) {
		return
	}
	var frame protocol.SyncFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.dropFrame(c, raw)
		return
	}

	since := parseCursor(frame.LastSync)
	data, err := r.snapshotter.collect(context.Background(), c.identity.UserID, since, frame.Kinds)
	if err != nil {
		r.logger.Error("sync query failed", "conn_id", c.id, "user_id", c.identity.UserID, "error", err)
		r.sendTo(c, &protocol.SyncError{Type: protocol.TypeSyncError, Message: "Sync failed"})
		return
	}
	r.sendTo(c, data)
}

// handleNotification persists the notification per recipient and delivers
// it to each recipient's open connections. Persistence failures are logged
// and do not block live delivery.
func (r *Reactor) handleNotification(c *Conn, raw []byte) {
	if !r.requireAuth(c) {
		return
	}
	var frame protocol.NotificationFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.dropFrame(c, raw)
		return
	}

	now := nowUTC()
	for _, userID := range frame.ToUsers {
		n := &store.Notification{
			ID:        uuid.New().String(),
			UserID:    userID,
			Kind:      frame.Notification.Kind,
			Title:     frame.Notification.Title,
			Message:   frame.Notification.Message,
			Data:      frame.Notification.Data,
			CreatedAt: now,
		}
		if err := r.broadcaster.store.SaveNotification(context.Background(), n); err != nil {
			r.logger.Error("save notification failed", "user_id", userID, "error", err)
		}
	}

	r.broadcaster.sendToUsers(frame.ToUsers, nil, &protocol.Notification{
		Type: protocol.TypeNotification,
		Data: frame.Notification,
	})
}

// handlePresence relays a manual status change ("away", "busy", ...) to
// every other authenticated connection.
func (r *Reactor) handlePresence(c *Conn, raw []byte) {
	if !r.requireAuth(c) {
		return
	}
	var frame protocol.PresenceFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.dropFrame(c, raw)
		return
	}
	r.broadcastPresence(c.identity.UserID, frame.Status, c)
}

// handleDocumentUpdate fans a document change out to everyone sharing a
// company with the sender, excluding the sender's own connection.
func (r *Reactor) handleDocumentUpdate(c *Conn, raw []byte) {
	if !r.requireAuth(c) {
		return
	}
	var frame protocol.DocumentUpdateFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.dropFrame(c, raw)
		return
	}

	peers, err := r.broadcaster.tenantAudience(context.Background(), c.identity.UserID)
	if err != nil {
		r.logger.Error("document fan-out failed", "conn_id", c.id, "user_id", c.identity.UserID, "error", err)
		return
	}
	r.broadcaster.sendToUsers(peers, c, &protocol.DocumentUpdate{
		Type:      protocol.TypeDocumentUpdate,
		Data:      frame.Data,
		FromUser:  c.identity.UserID,
		Timestamp: nowUTC(),
	})
}

// handleTicketUpdate relays a ticket change to its requester and assignee.
func (r *Reactor) handleTicketUpdate(c *Conn, raw []byte) {
	if !r.requireAuth(c) {
		return
	}
	var frame protocol.TicketUpdateFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.dropFrame(c, raw)
		return
	}

	participants, err := r.broadcaster.participantAudience(context.Background(), "ticket", frame.TicketID)
	if err != nil {
		r.logger.Error("ticket fan-out failed", "conn_id", c.id, "ticket_id", frame.TicketID, "error", err)
		return
	}
	r.broadcaster.sendToUsers(participants, c, &protocol.TicketUpdate{
		Type: protocol.TypeTicketUpdate,
		Data: frame.Data,
	})
}

// handleEventUpdate relays an event change to its creator and registrants.
func (r *Reactor) handleEventUpdate(c *Conn, raw []byte) {
	if !r.requireAuth(c) {
		return
	}
	var frame protocol.EventUpdateFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.dropFrame(c, raw)
		return
	}

	participants, err := r.broadcaster.participantAudience(context.Background(), "event", frame.EventID)
	if err != nil {
		r.logger.Error("event fan-out failed", "conn_id", c.id, "event_id", frame.EventID, "error", err)
		return
	}
	r.broadcaster.sendToUsers(participants, c, &protocol.EventUpdate{
		Type: protocol.TypeEventUpdate,
		Data: frame.Data,
	})
}

// handlePing answers regardless of authentication state so clients can
// keep connections alive while still logging in.
func (r *Reactor) handlePing(c *Conn) {
	r.sendTo(c, &protocol.Pong{Type: protocol.TypePong})
}

func (r *Reactor) sendTo(c *Conn, msg any) {
	if err := c.send(msg); err != nil {
		r.logger.Debug("send failed", "conn_id", c.id, "error", err)
	}
}
