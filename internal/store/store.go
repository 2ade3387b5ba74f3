// Package store defines the platform storage interface used by the sync
// server and provides SQLite and PostgreSQL implementations.
//
// The sync server treats the store as an external collaborator: it reads
// users, tenants, documents, events, and tickets that the platform's REST
// side maintains, and only writes notification rows.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the relational lookup surface of the platform.
type Store interface {
	// Session tokens (issued by the platform's REST side, validated here).
	GetTokenIdentity(ctx context.Context, token string) (*TokenIdentity, error)

	// Tenant membership. ListTenantPeerIDs resolves, in one query, every
	// user sharing at least one company with userID (including userID).
	// One call per tenant broadcast bounds staleness to call time.
	ListTenantPeerIDs(ctx context.Context, userID int64) ([]int64, error)

	// Participant sets.
	GetTicketParticipants(ctx context.Context, ticketID int64) ([]int64, error)
	GetEventParticipants(ctx context.Context, eventID int64) ([]int64, error)

	// Sync deltas: rows modified strictly after `since` and visible to the
	// user, newest first, at most `limit` rows.
	ListChangedDocuments(ctx context.Context, userID int64, since time.Time, limit int) ([]Document, error)
	ListChangedEvents(ctx context.Context, userID int64, since time.Time, limit int) ([]Event, error)
	ListChangedTickets(ctx context.Context, userID int64, since time.Time, limit int) ([]Ticket, error)

	// Notifications (the only write path owned by the sync server).
	SaveNotification(ctx context.Context, n *Notification) error

	// Platform-side CRUD. The REST service owns these in production; the
	// sync server's tests use them for seeding.
	CreateCompany(ctx context.Context, c *Company) error
	CreateUser(ctx context.Context, u *User) error
	AddCompanyMember(ctx context.Context, companyID, userID int64) error
	CreateAuthToken(ctx context.Context, t *AuthToken) error
	CreateDocument(ctx context.Context, d *Document) error
	CreateEvent(ctx context.Context, e *Event) error
	AddEventParticipant(ctx context.Context, eventID, userID int64) error
	CreateTicket(ctx context.Context, t *Ticket) error

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TokenIdentity is the identity resolved from a valid, unexpired token.
type TokenIdentity struct {
	UserID      int64
	DisplayName string
	Role        string
}

// Company is a tenant: an isolation boundary for broadcasts.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a platform user; tenant membership lives in company_members.
type User struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"` // "admin" or "user"
	CreatedAt   time.Time `json:"created_at"`
}

// AuthToken is a bearer session token row. Valid iff not expired.
type AuthToken struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Document is a stored compliance document.
type Document struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	CreatorID int64     `json:"creator_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a scheduled event with registered participants.
type Event struct {
	ID        int64     `json:"id"`
	CreatorID int64     `json:"creator_id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ticket is a support/compliance ticket. AssigneeID is 0 when unassigned.
type Ticket struct {
	ID          int64     `json:"id"`
	RequesterID int64     `json:"requester_id"`
	AssigneeID  int64     `json:"assignee_id"`
	Subject     string    `json:"subject"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Notification is a persisted copy of a fanned-out notification.
type Notification struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user_id"`
	Kind      string          `json:"kind"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
