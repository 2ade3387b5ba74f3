package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veridoc/veridoc/internal/store"
)

// Broadcaster resolves logical targets (explicit users, tenant peers,
// resource participants) into connection sets and delivers messages to
// them. Delivery is best-effort: a failed write to one connection never
// aborts delivery to the rest. Reactor goroutine only.
type Broadcaster struct {
	registry *Registry
	presence *Tracker
	store    store.Store
	logger   *slog.Logger
}

func newBroadcaster(reg *Registry, pres *Tracker, s store.Store, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: reg,
		presence: pres,
		store:    s,
		logger:   logger.With("component", "broadcast"),
	}
}

// sendToUsers delivers msg to every open connection of the given users,
// skipping the except connection. Users with no open connection are
// silently skipped; store-and-forward is out of scope.
func (b *Broadcaster) sendToUsers(userIDs []int64, except *Conn, msg any) {
	for _, userID := range userIDs {
		for connID := range b.presence.connections(userID) {
			c := b.registry.get(connID)
			if c == nil || (except != nil && c.id == except.id) {
				continue
			}
			if err := c.send(msg); err != nil {
				b.logger.Debug("send failed", "conn_id", c.id, "user_id", userID, "error", err)
			}
		}
	}
}

// sendToAllAuthenticated delivers msg to every authenticated connection
// except the given one.
func (b *Broadcaster) sendToAllAuthenticated(except *Conn, msg any) {
	b.registry.forEachAuthenticated(func(c *Conn) {
		if except != nil && c.id == except.id {
			return
		}
		if err := c.send(msg); err != nil {
			b.logger.Debug("send failed", "conn_id", c.id, "error", err)
		}
	})
}

// tenantAudience resolves every user sharing a company with userID.
// Users in more than one company fan out to all of them.
func (b *Broadcaster) tenantAudience(ctx context.Context, userID int64) ([]int64, error) {
	peers, err := b.store.ListTenantPeerIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant peers: %w", err)
	}
	return peers, nil
}

// participantAudience resolves the users entitled to updates about a
// resource: ticket requester+assignee, or event creator+registrants.
func (b *Broadcaster) participantAudience(ctx context.Context, kind string, resourceID int64) ([]int64, error) {
	switch kind {
	case "ticket":
		return b.store.GetTicketParticipants(ctx, resourceID)
	case "event":
		return b.store.GetEventParticipants(ctx, resourceID)
	default:
		return nil, fmt.Errorf("unknown resource kind: %q", kind)
	}
}
