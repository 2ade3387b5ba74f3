package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/veridoc/veridoc/internal/store"
	"github.com/veridoc/veridoc/pkg/protocol"
)

// syncEpoch is the lower bound used when the client supplies no cursor.
var syncEpoch = time.Unix(0, 0).UTC()

// cursorFormats are the accepted last_sync layouts, tried in order.
var cursorFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// parseCursor parses a client-supplied sync cursor. Absent or unparseable
// cursors fall back to the epoch sentinel, which yields a full snapshot.
func parseCursor(s string) time.Time {
	if s == "" {
		return syncEpoch
	}
	for _, layout := range cursorFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return syncEpoch
}

// Snapshotter answers "what changed since cursor T" for a user's visible
// documents, events, and tickets. Each per-kind query is capped and ordered
// newest first. The returned cursor is "now" at query time; a change that
// commits between query and response may be missed until the next sync.
type Snapshotter struct {
	store   store.Store
	maxRows int
}

func newSnapshotter(s store.Store, maxRows int) *Snapshotter {
	return &Snapshotter{store: s, maxRows: maxRows}
}

func wantKind(kinds []string, kind string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// collect runs the delta queries and bundles the response frame.
func (sn *Snapshotter) collect(ctx context.Context, userID int64, since time.Time, kinds []string) (*protocol.SyncData, error) {
	out := &protocol.SyncData{
		Type:      protocol.TypeSyncData,
		Documents: []protocol.DocumentDelta{},
		Events:    []protocol.EventDelta{},
		Tickets:   []protocol.TicketDelta{},
	}

	if wantKind(kinds, "documents") {
		docs, err := sn.store.ListChangedDocuments(ctx, userID, since, sn.maxRows)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		for _, d := range docs {
			out.Documents = append(out.Documents, protocol.DocumentDelta{
				ID:        d.ID,
				CompanyID: d.CompanyID,
				CreatorID: d.CreatorID,
				Title:     d.Title,
				UpdatedAt: d.UpdatedAt,
			})
		}
	}

	if wantKind(kinds, "events") {
		events, err := sn.store.ListChangedEvents(ctx, userID, since, sn.maxRows)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		for _, e := range events {
			out.Events = append(out.Events, protocol.EventDelta{
				ID:        e.ID,
				CreatorID: e.CreatorID,
				Title:     e.Title,
				StartsAt:  e.StartsAt,
				UpdatedAt: e.UpdatedAt,
			})
		}
	}

	if wantKind(kinds, "tickets") {
		tickets, err := sn.store.ListChangedTickets(ctx, userID, since, sn.maxRows)
		if err != nil {
			return nil, fmt.Errorf("list tickets: %w", err)
		}
		for _, t := range tickets {
			out.Tickets = append(out.Tickets, protocol.TicketDelta{
				ID:          t.ID,
				RequesterID: t.RequesterID,
				AssigneeID:  t.AssigneeID,
				Subject:     t.Subject,
				Status:      t.Status,
				UpdatedAt:   t.UpdatedAt,
			})
		}
	}

	out.Timestamp = time.Now().UTC()
	return out, nil
}
