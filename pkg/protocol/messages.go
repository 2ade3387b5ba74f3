// Package protocol defines the JSON frames exchanged between veridoc clients
// and the sync server over WebSocket.
//
// Frames are flat JSON objects with a "type" field alongside the payload
// fields, one message per WebSocket text frame.
package protocol

import (
	"encoding/json"
	"time"
)

// FrameType identifies an inbound frame. The set is closed; anything else
// classifies as FrameUnknown.
type FrameType string

const (
	FrameAuth           FrameType = "auth"
	FrameSync           FrameType = "sync"
	FrameNotification   FrameType = "notification"
	FramePresence       FrameType = "presence"
	FrameDocumentUpdate FrameType = "document_update"
	FrameTicketUpdate   FrameType = "ticket_update"
	FrameEventUpdate    FrameType = "event_update"
	FramePing           FrameType = "ping"
	FrameUnknown        FrameType = ""
)

// Classify extracts and validates the type of a raw inbound frame.
// Malformed JSON, a missing type field, and unrecognized types all yield
// FrameUnknown; the caller drops such frames without a response.
func Classify(raw []byte) FrameType {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return FrameUnknown
	}
	switch t := FrameType(head.Type); t {
	case FrameAuth, FrameSync, FrameNotification, FramePresence,
		FrameDocumentUpdate, FrameTicketUpdate, FrameEventUpdate, FramePing:
		return t
	}
	return FrameUnknown
}

// --- Inbound frames (client → server) ---

// AuthFrame carries a bearer token for session authentication.
type AuthFrame struct {
	Token string `json:"token"`
}

// SyncFrame requests changes since the client's last sync cursor.
// LastSync accepts RFC 3339 or "2006-01-02 15:04:05"; when absent the server
// uses the Unix epoch as the lower bound. Kinds optionally narrows the
// response to a subset of {"documents", "events", "tickets"}.
type SyncFrame struct {
	LastSync string   `json:"last_sync,omitempty"`
	Kinds    []string `json:"kinds,omitempty"`
}

// NotificationPayload is the user-visible body of an ad-hoc notification.
type NotificationPayload struct {
	Kind    string          `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NotificationFrame asks the server to deliver a notification to a set of users.
type NotificationFrame struct {
	ToUsers      []int64             `json:"to_users"`
	Notification NotificationPayload `json:"notification"`
}

// PresenceFrame announces a manual status change ("away", "busy", ...).
type PresenceFrame struct {
	Status string `json:"status"`
}

// DocumentUpdateFrame carries an opaque document change for tenant fan-out.
type DocumentUpdateFrame struct {
	Data json.RawMessage `json:"data"`
}

// TicketUpdateFrame notifies the participants of a ticket about a change.
type TicketUpdateFrame struct {
	TicketID int64           `json:"ticket_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// EventUpdateFrame notifies the participants of an event about a change.
type EventUpdateFrame struct {
	EventID int64           `json:"event_id"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// --- Outbound frame type constants (server → client) ---

const (
	TypeAuthSuccess    = "auth_success"
	TypeAuthError      = "auth_error"
	TypeSyncData       = "sync_data"
	TypeSyncError      = "sync_error"
	TypePresenceUpdate = "presence_update"
	TypeNotification   = "notification"
	TypeDocumentUpdate = "document_update"
	TypeTicketUpdate   = "ticket_update"
	TypeEventUpdate    = "event_update"
	TypePong           = "pong"
	TypeError          = "error"
)

// UserInfo is the identity echoed back on successful authentication.
type UserInfo struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// AuthSuccess confirms authentication and echoes the resolved identity.
type AuthSuccess struct {
	Type string   `json:"type"`
	User UserInfo `json:"user"`
}

// AuthError reports a failed authentication attempt; the connection stays
// open so the client may retry.
type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DocumentDelta is a changed document in a sync response.
type DocumentDelta struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	CreatorID int64     `json:"creator_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventDelta is a changed event in a sync response.
type EventDelta struct {
	ID        int64     `json:"id"`
	CreatorID int64     `json:"creator_id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TicketDelta is a changed ticket in a sync response.
type TicketDelta struct {
	ID          int64     `json:"id"`
	RequesterID int64     `json:"requester_id"`
	AssigneeID  int64     `json:"assignee_id,omitempty"`
	Subject     string    `json:"subject"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SyncData bundles everything that changed since the client's cursor.
// Timestamp is the fresh cursor for the next sync request.
type SyncData struct {
	Type      string          `json:"type"`
	Documents []DocumentDelta `json:"documents"`
	Events    []EventDelta    `json:"events"`
	Tickets   []TicketDelta   `json:"tickets"`
	Timestamp time.Time       `json:"timestamp"`
}

// SyncError reports a failed sync query to the requesting connection only.
type SyncError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PresenceUpdate announces a user's status change to other connections.
type PresenceUpdate struct {
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification delivers an ad-hoc notification to a target user's devices.
type Notification struct {
	Type string              `json:"type"`
	Data NotificationPayload `json:"data"`
}

// DocumentUpdate relays a document change to the sender's tenant(s),
// tagged with the sender and a server timestamp.
type DocumentUpdate struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	FromUser  int64           `json:"from_user"`
	Timestamp time.Time       `json:"timestamp"`
}

// TicketUpdate relays a ticket change to its participants.
type TicketUpdate struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventUpdate relays an event change to its participants.
type EventUpdate struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Pong answers a ping regardless of authentication state.
type Pong struct {
	Type string `json:"type"`
}

// ErrorMessage reports a rejected action (e.g. a frame sent before auth).
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
