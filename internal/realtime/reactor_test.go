package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/veridoc/veridoc/internal/auth"
	"github.com/veridoc/veridoc/internal/store"
)

// fakeTransport records outbound frames in place of a real WebSocket.
type fakeTransport struct {
	frames [][]byte
	closed bool
	fail   bool
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if f.fail {
		return errors.New("write failed")
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// framesOfType decodes the recorded frames and returns those with the given
// type field.
func (f *fakeTransport) framesOfType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, raw := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("malformed outbound frame %q: %v", raw, err)
		}
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func newTestReactor(t *testing.T) (*Reactor, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReactor(s, auth.NewTokenProvider(s), logger, Options{}), s
}

func seedUserWithToken(t *testing.T, s *store.SQLiteStore, name string) (int64, string) {
	t.Helper()
	ctx := context.Background()
	u := &store.User{DisplayName: name, Role: "user", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	token := fmt.Sprintf("token-%s-%d", name, u.ID)
	if err := s.CreateAuthToken(ctx, &store.AuthToken{
		Token:     token,
		UserID:    u.ID,
		ExpiresAt: time.Now().Add(1 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	return u.ID, token
}

// connect attaches a fresh fake-backed connection to the reactor. The
// reactor loop is not running; tests drive handle directly so every effect
// is observable synchronously.
func connect(r *Reactor) (*Conn, *fakeTransport) {
	ft := &fakeTransport{}
	c := newConn(ft)
	r.handle(event{kind: evAttach, conn: c})
	return c, ft
}

func frame(r *Reactor, c *Conn, raw string) {
	r.handle(event{kind: evFrame, conn: c, raw: []byte(raw)})
}

func authenticate(t *testing.T, r *Reactor, c *Conn, ft *fakeTransport, token string) {
	t.Helper()
	frame(r, c, fmt.Sprintf(`{"type":"auth","token":%q}`, token))
	if got := ft.framesOfType(t, "auth_success"); len(got) == 0 {
		t.Fatalf("authentication failed, frames: %v", ft.frames)
	}
}

func TestPingWithoutAuth(t *testing.T) {
	r, _ := newTestReactor(t)
	c, ft := connect(r)

	frame(r, c, `{"type":"ping"}`)

	if got := ft.framesOfType(t, "pong"); len(got) != 1 {
		t.Errorf("expected a pong before authentication, frames: %v", ft.frames)
	}
}

func TestSyncRequiresAuth(t *testing.T) {
	r, _ := newTestReactor(t)
	c, ft := connect(r)

	frame(r, c, `{"type":"sync"}`)

	errs := ft.framesOfType(t, "error")
	if len(errs) != 1 {
		t.Fatalf("expected one error frame, got %v", ft.frames)
	}
	if errs[0]["message"] != "Not authenticated" {
		t.Errorf("unexpected error message: %v", errs[0]["message"])
	}
	if got := ft.framesOfType(t, "sync_data"); len(got) != 0 {
		t.Error("unauthenticated sync must not return data")
	}
}

func TestAuthSuccessAndPresenceBroadcast(t *testing.T) {
	r, s := newTestReactor(t)
	_, token1 := seedUserWithToken(t, s, "alice")
	user2, token2 := seedUserWithToken(t, s, "bob")

	c1, ft1 := connect(r)
	authenticate(t, r, c1, ft1, token1)

	c2, ft2 := connect(r)
	authenticate(t, r, c2, ft2, token2)

	// The observer sees bob come online.
	updates := ft1.framesOfType(t, "presence_update")
	if len(updates) != 1 {
		t.Fatalf("expected one presence update on observer, got %v", ft1.frames)
	}
	if int64(updates[0]["user_id"].(float64)) != user2 || updates[0]["status"] != "online" {
		t.Errorf("unexpected presence update: %v", updates[0])
	}

	// The origin connection does not see its own transition.
	if got := ft2.framesOfType(t, "presence_update"); len(got) != 0 {
		t.Errorf("origin must not receive its own presence update, got %v", got)
	}

	// auth_success echoes the resolved identity.
	success := ft2.framesOfType(t, "auth_success")
	if len(success) != 1 {
		t.Fatal("expected exactly one auth_success")
	}
	user := success[0]["user"].(map[string]any)
	if user["display_name"] != "bob" {
		t.Errorf("unexpected identity echo: %v", user)
	}

	// A second connection of the same user is not a new online transition.
	c3, ft3 := connect(r)
	authenticate(t, r, c3, ft3, token2)
	if got := ft1.framesOfType(t, "presence_update"); len(got) != 1 {
		t.Errorf("second connection must not re-broadcast online, got %v", got)
	}
}

func TestAuthInvalidToken(t *testing.T) {
	r, _ := newTestReactor(t)
	c, ft := connect(r)

	frame(r, c, `{"type":"auth","token":"bogus"}`)

	if got := ft.framesOfType(t, "auth_error"); len(got) != 1 {
		t.Fatalf("expected auth_error, got %v", ft.frames)
	}
	if c.authenticated() {
		t.Error("connection must stay unauthenticated after a bad token")
	}

	// The connection stays open and may retry.
	if ft.closed {
		t.Error("connection must not be closed after a failed auth")
	}
}

func TestMalformedFramesSilentlyDropped(t *testing.T) {
	r, _ := newTestReactor(t)
	c, ft := connect(r)

	frame(r, c, `{not json`)
	frame(r, c, `{"no_type":true}`)
	frame(r, c, `{"type":"warp_drive"}`)

	if len(ft.frames) != 0 {
		t.Errorf("dropped frames must produce no response, got %v", ft.frames)
	}
	if got := r.Stats().DroppedFrames; got != 3 {
		t.Errorf("expected 3 dropped frames, got %d", got)
	}
}

func TestNotificationFanout(t *testing.T) {
	r, s := newTestReactor(t)
	_, token1 := seedUserWithToken(t, s, "sender")
	user2, token2 := seedUserWithToken(t, s, "target")
	user3, _ := seedUserWithToken(t, s, "offline")

	c1, ft1 := connect(r)
	authenticate(t, r, c1, ft1, token1)

	// Target is connected twice; both devices must receive the notification.
	c2a, ft2a := connect(r)
	authenticate(t, r, c2a, ft2a, token2)
	c2b, ft2b := connect(r)
	authenticate(t, r, c2b, ft2b, token2)

	frame(r, c1, fmt.Sprintf(
		`{"type":"notification","to_users":[%d,%d],"notification":{"type":"doc_shared","title":"Shared","message":"A document was shared"}}`,
		user2, user3))

	for i, ft := range []*fakeTransport{ft2a, ft2b} {
		got := ft.framesOfType(t, "notification")
		if len(got) != 1 {
			t.Fatalf("device %d: expected one notification, got %v", i, ft.frames)
		}
		data := got[0]["data"].(map[string]any)
		if data["type"] != "doc_shared" || data["title"] != "Shared" {
			t.Errorf("device %d: unexpected payload %v", i, data)
		}
	}

	// The sender is not a recipient.
	if got := ft1.framesOfType(t, "notification"); len(got) != 0 {
		t.Errorf("sender must not receive the notification, got %v", got)
	}
}

func TestDocumentUpdateTenantFanout(t *testing.T) {
	r, s := newTestReactor(t)
	ctx := context.Background()

	user1, token1 := seedUserWithToken(t, s, "editor")
	user2, token2 := seedUserWithToken(t, s, "colleague")
	_, token3 := seedUserWithToken(t, s, "stranger")

	company := &store.Company{Name: "Acme", CreatedAt: time.Now()}
	if err := s.CreateCompany(ctx, company); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{user1, user2} {
		if err := s.AddCompanyMember(ctx, company.ID, id); err != nil {
			t.Fatal(err)
		}
	}

	c1, ft1 := connect(r)
	authenticate(t, r, c1, ft1, token1)
	c2, ft2 := connect(r)
	authenticate(t, r, c2, ft2, token2)
	c3, ft3 := connect(r)
	authenticate(t, r, c3, ft3, token3)

	frame(r, c1, `{"type":"document_update","data":{"document_id":42,"action":"updated"}}`)

	got := ft2.framesOfType(t, "document_update")
	if len(got) != 1 {
		t.Fatalf("expected colleague to receive the update, got %v", ft2.frames)
	}
	if int64(got[0]["from_user"].(float64)) != user1 {
		t.Errorf("expected from_user %d, got %v", user1, got[0]["from_user"])
	}
	data := got[0]["data"].(map[string]any)
	if data["document_id"].(float64) != 42 {
		t.Errorf("payload must pass through unchanged, got %v", data)
	}

	if got := ft3.framesOfType(t, "document_update"); len(got) != 0 {
		t.Errorf("stranger must not receive tenant updates, got %v", got)
	}
	if got := ft1.framesOfType(t, "document_update"); len(got) != 0 {
		t.Errorf("sender connection must not receive its own update, got %v", got)
	}
}

func TestTicketUpdateFanout(t *testing.T) {
	r, s := newTestReactor(t)
	ctx := context.Background()

	requester, token1 := seedUserWithToken(t, s, "requester")
	assignee, token2 := seedUserWithToken(t, s, "assignee")

	ticket := &store.Ticket{RequesterID: requester, AssigneeID: assignee, Subject: "vpn", Status: "open", UpdatedAt: time.Now()}
	if err := s.CreateTicket(ctx, ticket); err != nil {
		t.Fatal(err)
	}

	c1, ft1 := connect(r)
	authenticate(t, r, c1, ft1, token1)
	c2, ft2 := connect(r)
	authenticate(t, r, c2, ft2, token2)

	frame(r, c1, fmt.Sprintf(`{"type":"ticket_update","ticket_id":%d,"data":{"status":"closed"}}`, ticket.ID))

	got := ft2.framesOfType(t, "ticket_update")
	if len(got) != 1 {
		t.Fatalf("expected assignee to receive the update, got %v", ft2.frames)
	}
	data := got[0]["data"].(map[string]any)
	if data["status"] != "closed" {
		t.Errorf("unexpected payload: %v", data)
	}
	if got := ft1.framesOfType(t, "ticket_update"); len(got) != 0 {
		t.Errorf("sender connection must not receive its own update, got %v", got)
	}
}

func TestEventUpdateFanout(t *testing.T) {
	r, s := newTestReactor(t)
	ctx := context.Background()

	creator, token1 := seedUserWithToken(t, s, "creator")
	guest, token2 := seedUserWithToken(t, s, "guest")

	ev := &store.Event{CreatorID: creator, Title: "kickoff", StartsAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := s.AddEventParticipant(ctx, ev.ID, guest); err != nil {
		t.Fatal(err)
	}

	c1, ft1 := connect(r)
	authenticate(t, r, c1, ft1, token1)
	c2, ft2 := connect(r)
	authenticate(t, r, c2, ft2, token2)

	frame(r, c1, fmt.Sprintf(`{"type":"event_update","event_id":%d,"data":{"starts_at":"moved"}}`, ev.ID))

	if got := ft2.framesOfType(t, "event_update"); len(got) != 1 {
		t.Fatalf("expected guest to receive the update, got %v", ft2.frames)
	}
	if got := ft1.framesOfType(t, "event_update"); len(got) != 0 {
		t.Errorf("sender connection must not receive its own update, got %v", got)
	}
}

func TestSyncReturnsDeltas(t *testing.T) {
	r, s := newTestReactor(t)
	ctx := context.Background()

	userID, token := seedUserWithToken(t, s, "reader")

	company := &store.Company{Name: "Acme", CreatedAt: time.Now()}
	if err := s.CreateCompany(ctx, company); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCompanyMember(ctx, company.ID, userID); err != nil {
		t.Fatal(err)
	}
	doc := &store.Document{CompanyID: company.ID, CreatorID: userID, Title: "handbook", UpdatedAt: time.Now().UTC()}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	c, ft := connect(r)
	authenticate(t, r, c, ft, token)

	// No cursor: full snapshot.
	frame(r, c, `{"type":"sync"}`)
	got := ft.framesOfType(t, "sync_data")
	if len(got) != 1 {
		t.Fatalf("expected sync_data, got %v", ft.frames)
	}
	docs := got[0]["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %v", docs)
	}
	// Empty kinds come back as [] rather than null.
	if got[0]["events"] == nil || got[0]["tickets"] == nil {
		t.Errorf("empty collections must be arrays, got %v", got[0])
	}
	if got[0]["timestamp"] == nil {
		t.Error("sync response must carry the next cursor")
	}

	// Future cursor: nothing changed.
	future := time.Now().UTC().Add(1 * time.Hour).Format(time.RFC3339)
	frame(r, c, fmt.Sprintf(`{"type":"sync","last_sync":%q}`, future))
	got = ft.framesOfType(t, "sync_data")
	if len(got) != 2 {
		t.Fatalf("expected second sync_data, got %v", ft.frames)
	}
	if docs := got[1]["documents"].([]any); len(docs) != 0 {
		t.Errorf("expected no documents after future cursor, got %v", docs)
	}

	// Kind filter: only tickets requested, documents stay empty.
	frame(r, c, `{"type":"sync","kinds":["tickets"]}`)
	got = ft.framesOfType(t, "sync_data")
	if len(got) != 3 {
		t.Fatalf("expected third sync_data, got %v", ft.frames)
	}
	if docs := got[2]["documents"].([]any); len(docs) != 0 {
		t.Errorf("kind filter must suppress document rows, got %v", docs)
	}
}

func TestDetachBroadcastsOfflineOnLastConnection(t *testing.T) {
	r, s := newTestReactor(t)
	user1, token1 := seedUserWithToken(t, s, "leaver")
	_, token2 := seedUserWithToken(t, s, "observer")

	c1a, ft1a := connect(r)
	authenticate(t, r, c1a, ft1a, token1)
	c1b, ft1b := connect(r)
	authenticate(t, r, c1b, ft1b, token1)

	c2, ft2 := connect(r)
	authenticate(t, r, c2, ft2, token2)

	offlineCount := func() int {
		n := 0
		for _, u := range ft2.framesOfType(t, "presence_update") {
			if u["status"] == "offline" {
				n++
			}
		}
		return n
	}

	r.handle(event{kind: evDetach, conn: c1a})
	if offlineCount() != 0 {
		t.Error("offline must not be broadcast while another connection remains")
	}

	r.handle(event{kind: evDetach, conn: c1b})
	if offlineCount() != 1 {
		t.Fatalf("expected one offline broadcast, frames: %v", ft2.frames)
	}
	for _, u := range ft2.framesOfType(t, "presence_update") {
		if u["status"] == "offline" && int64(u["user_id"].(float64)) != user1 {
			t.Errorf("unexpected offline user: %v", u)
		}
	}

	// Double detach is a no-op.
	r.handle(event{kind: evDetach, conn: c1b})
	if offlineCount() != 1 {
		t.Error("duplicate detach must not re-broadcast offline")
	}
}

func TestManualPresenceStatus(t *testing.T) {
	r, s := newTestReactor(t)
	user1, token1 := seedUserWithToken(t, s, "away-user")
	_, token2 := seedUserWithToken(t, s, "observer")

	c1, ft1 := connect(r)
	authenticate(t, r, c1, ft1, token1)
	c2, ft2 := connect(r)
	authenticate(t, r, c2, ft2, token2)

	frame(r, c1, `{"type":"presence","status":"away"}`)

	var away []map[string]any
	for _, u := range ft2.framesOfType(t, "presence_update") {
		if u["status"] == "away" {
			away = append(away, u)
		}
	}
	if len(away) != 1 {
		t.Fatalf("expected one away update, frames: %v", ft2.frames)
	}
	if int64(away[0]["user_id"].(float64)) != user1 {
		t.Errorf("unexpected user in away update: %v", away[0])
	}
	for _, u := range ft1.framesOfType(t, "presence_update") {
		if u["status"] == "away" {
			t.Errorf("origin must not receive its own status update: %v", u)
		}
	}
}

func TestSendFailureIsolatesConnection(t *testing.T) {
	r, s := newTestReactor(t)
	_, token1 := seedUserWithToken(t, s, "speaker")
	_, token2 := seedUserWithToken(t, s, "broken")
	_, token3 := seedUserWithToken(t, s, "healthy")

	c1, ft1 := connect(r)
	authenticate(t, r, c1, ft1, token1)
	c2, ft2 := connect(r)
	authenticate(t, r, c2, ft2, token2)
	c3, ft3 := connect(r)
	authenticate(t, r, c3, ft3, token3)

	ft2.fail = true

	frame(r, c1, `{"type":"presence","status":"busy"}`)

	var busy int
	for _, u := range ft3.framesOfType(t, "presence_update") {
		if u["status"] == "busy" {
			busy++
		}
	}
	if busy != 1 {
		t.Errorf("healthy connection must still receive the broadcast, frames: %v", ft3.frames)
	}
}

func TestStatsCounters(t *testing.T) {
	r, s := newTestReactor(t)
	_, token := seedUserWithToken(t, s, "counted")

	c, ft := connect(r)
	if got := r.Stats().ConnectionsOpen; got != 1 {
		t.Errorf("expected 1 open connection, got %d", got)
	}

	authenticate(t, r, c, ft, token)
	if got := r.Stats().UsersOnline; got != 1 {
		t.Errorf("expected 1 online user, got %d", got)
	}

	r.handle(event{kind: evDetach, conn: c})
	stats := r.Stats()
	if stats.ConnectionsOpen != 0 || stats.UsersOnline != 0 {
		t.Errorf("expected counters back to zero, got %+v", stats)
	}
}
