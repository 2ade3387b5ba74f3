package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data. Without this, each pooled connection gets a separate
	// empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS company_members (
			company_id INTEGER NOT NULL REFERENCES companies(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (company_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			expires_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id INTEGER NOT NULL REFERENCES companies(id),
			creator_id INTEGER NOT NULL REFERENCES users(id),
			title TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			creator_id INTEGER NOT NULL REFERENCES users(id),
			title TEXT NOT NULL DEFAULT '',
			starts_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS event_participants (
			event_id INTEGER NOT NULL REFERENCES events(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			PRIMARY KEY (event_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			requester_id INTEGER NOT NULL REFERENCES users(id),
			assignee_id INTEGER,
			subject TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_company_members_user ON company_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_updated_at ON events(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_updated_at ON tickets(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}

	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Session tokens ---

func (s *SQLiteStore) GetTokenIdentity(ctx context.Context, token string) (*TokenIdentity, error) {
	var id TokenIdentity
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.display_name, u.role
		 FROM auth_tokens t JOIN users u ON u.id = t.user_id
		 WHERE t.token = ? AND t.expires_at > ?`,
		token, time.Now().UTC(),
	).Scan(&id.UserID, &id.DisplayName, &id.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *SQLiteStore) CreateAuthToken(ctx context.Context, t *AuthToken) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO auth_tokens (token, user_id, expires_at) VALUES (?, ?, ?)",
		t.Token, t.UserID, t.ExpiresAt.UTC(),
	)
	return err
}

// --- Tenant membership ---

func (s *SQLiteStore) ListTenantPeerIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT m2.user_id
		 FROM company_members m1
		 JOIN company_members m2 ON m2.company_id = m1.company_id
		 WHERE m1.user_id = ?`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// --- Participant sets ---

func (s *SQLiteStore) GetTicketParticipants(ctx context.Context, ticketID int64) ([]int64, error) {
	var requester int64
	var assignee sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT requester_id, assignee_id FROM tickets WHERE id = ?", ticketID,
	).Scan(&requester, &assignee)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := []int64{requester}
	if assignee.Valid && assignee.Int64 != requester {
		ids = append(ids, assignee.Int64)
	}
	return ids, nil
}

func (s *SQLiteStore) GetEventParticipants(ctx context.Context, eventID int64) ([]int64, error) {
	var creator int64
	err := s.db.QueryRowContext(ctx,
		"SELECT creator_id FROM events WHERE id = ?", eventID,
	).Scan(&creator)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM event_participants WHERE event_id = ?", eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{creator}
	seen := map[int64]bool{creator: true}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// --- Sync deltas ---

func (s *SQLiteStore) ListChangedDocuments(ctx context.Context, userID int64, since time.Time, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.company_id, d.creator_id, d.title, d.updated_at
		 FROM documents d
		 WHERE d.updated_at > ?
		   AND (d.creator_id = ?
		        OR d.company_id IN (SELECT company_id FROM company_members WHERE user_id = ?))
		 ORDER BY d.updated_at DESC
		 LIMIT ?`,
		since.UTC(), userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.CreatorID, &d.Title, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) ListChangedEvents(ctx context.Context, userID int64, since time.Time, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.creator_id, e.title, e.starts_at, e.updated_at
		 FROM events e
		 WHERE e.updated_at > ?
		   AND (e.creator_id = ?
		        OR EXISTS (SELECT 1 FROM event_participants p WHERE p.event_id = e.id AND p.user_id = ?))
		 ORDER BY e.updated_at DESC
		 LIMIT ?`,
		since.UTC(), userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.CreatorID, &e.Title, &e.StartsAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) ListChangedTickets(ctx context.Context, userID int64, since time.Time, limit int) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.requester_id, t.assignee_id, t.subject, t.status, t.updated_at
		 FROM tickets t
		 WHERE t.updated_at > ?
		   AND (t.requester_id = ? OR t.assignee_id = ?)
		 ORDER BY t.updated_at DESC
		 LIMIT ?`,
		since.UTC(), userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		var assignee sql.NullInt64
		if err := rows.Scan(&t.ID, &t.RequesterID, &assignee, &t.Subject, &t.Status, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.AssigneeID = assignee.Int64
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// --- Notifications ---

func (s *SQLiteStore) SaveNotification(ctx context.Context, n *Notification) error {
	data := string(n.Data)
	if data == "" {
		data = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, kind, title, message, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		n.ID, n.UserID, n.Kind, n.Title, n.Message, data, n.CreatedAt.UTC(),
	)
	return err
}

// --- Platform-side CRUD ---

func (s *SQLiteStore) CreateCompany(ctx context.Context, c *Company) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO companies (name, created_at) VALUES (?, ?)",
		c.Name, c.CreatedAt.UTC())
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (display_name, role, created_at) VALUES (?, ?, ?)",
		u.DisplayName, u.Role, u.CreatedAt.UTC())
	if err != nil {
		return err
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) AddCompanyMember(ctx context.Context, companyID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO company_members (company_id, user_id) VALUES (?, ?)",
		companyID, userID)
	return err
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, d *Document) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (company_id, creator_id, title, updated_at) VALUES (?, ?, ?, ?)",
		d.CompanyID, d.CreatorID, d.Title, d.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	d.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, e *Event) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO events (creator_id, title, starts_at, updated_at) VALUES (?, ?, ?, ?)",
		e.CreatorID, e.Title, e.StartsAt.UTC(), e.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) AddEventParticipant(ctx context.Context, eventID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO event_participants (event_id, user_id) VALUES (?, ?)",
		eventID, userID)
	return err
}

func (s *SQLiteStore) CreateTicket(ctx context.Context, t *Ticket) error {
	var assignee any
	if t.AssigneeID != 0 {
		assignee = t.AssigneeID
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO tickets (requester_id, assignee_id, subject, status, updated_at) VALUES (?, ?, ?, ?, ?)",
		t.RequesterID, assignee, t.Subject, t.Status, t.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
