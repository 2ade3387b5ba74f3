package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS company_members (
			company_id BIGINT NOT NULL REFERENCES companies(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (company_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			company_id BIGINT NOT NULL REFERENCES companies(id),
			creator_id BIGINT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			creator_id BIGINT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL DEFAULT '',
			starts_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS event_participants (
			event_id BIGINT NOT NULL REFERENCES events(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			PRIMARY KEY (event_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id BIGSERIAL PRIMARY KEY,
			requester_id BIGINT NOT NULL REFERENCES users(id),
			assignee_id BIGINT,
			subject TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Session tokens ---

func (s *PostgresStore) GetTokenIdentity(ctx context.Context, token string) (*TokenIdentity, error) {
	var id TokenIdentity
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.display_name, u.role
		 FROM auth_tokens t JOIN users u ON u.id = t.user_id
		 WHERE t.token = $1 AND t.expires_at > NOW()`,
		token,
	).Scan(&id.UserID, &id.DisplayName, &id.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *PostgresStore) CreateAuthToken(ctx context.Context, t *AuthToken) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO auth_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)",
		t.Token, t.UserID, t.ExpiresAt)
	return err
}

// --- Tenant membership ---

func (s *PostgresStore) ListTenantPeerIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT m2.user_id
		 FROM company_members m1
		 JOIN company_members m2 ON m2.company_id = m1.company_id
		 WHERE m1.user_id = $1`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// --- Participant sets ---

func (s *PostgresStore) GetTicketParticipants(ctx context.Context, ticketID int64) ([]int64, error) {
	var requester int64
	var assignee sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT requester_id, assignee_id FROM tickets WHERE id = $1", ticketID,
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

func (s *PostgresStore) GetEventParticipants(ctx context.Context, eventID int64) ([]int64, error) {
	var creator int64
	err := s.db.QueryRowContext(ctx,
		"SELECT creator_id FROM events WHERE id = $1", eventID,
	).Scan(&creator)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM event_participants WHERE event_id = $1", eventID)
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

func (s *PostgresStore) ListChangedDocuments(ctx context.Context, userID int64, since time.Time, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.company_id, d.creator_id, d.title, d.updated_at
		 FROM documents d
		 WHERE d.updated_at > $1
		   AND (d.creator_id = $2
		        OR d.company_id IN (SELECT company_id FROM company_members WHERE user_id = $2))
		 ORDER BY d.updated_at DESC
		 LIMIT $3`,
		since, userID, limit)
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

func (s *PostgresStore) ListChangedEvents(ctx context.Context, userID int64, since time.Time, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.creator_id, e.title, e.starts_at, e.updated_at
		 FROM events e
		 WHERE e.updated_at > $1
		   AND (e.creator_id = $2
		        OR EXISTS (SELECT 1 FROM event_participants p WHERE p.event_id = e.id AND p.user_id = $2))
		 ORDER BY e.updated_at DESC
		 LIMIT $3`,
		since, userID, limit)
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

func (s *PostgresStore) ListChangedTickets(ctx context.Context, userID int64, since time.Time, limit int) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.requester_id, t.assignee_id, t.subject, t.status, t.updated_at
		 FROM tickets t
		 WHERE t.updated_at > $1
		   AND (t.requester_id = $2 OR t.assignee_id = $2)
		 ORDER BY t.updated_at DESC
		 LIMIT $3`,
		since, userID, limit)
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

func (s *PostgresStore) SaveNotification(ctx context.Context, n *Notification) error {
	data := string(n.Data)
	if data == "" {
		data = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, kind, title, message, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		n.ID, n.UserID, n.Kind, n.Title, n.Message, data, n.CreatedAt)
	return err
}

// --- Platform-side CRUD ---

func (s *PostgresStore) CreateCompany(ctx context.Context, c *Company) error {
	return s.db.QueryRowContext(ctx,
		"INSERT INTO companies (name, created_at) VALUES ($1, $2) RETURNING id",
		c.Name, c.CreatedAt).Scan(&c.ID)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	return s.db.QueryRowContext(ctx,
		"INSERT INTO users (display_name, role, created_at) VALUES ($1, $2, $3) RETURNING id",
		u.DisplayName, u.Role, u.CreatedAt).Scan(&u.ID)
}

func (s *PostgresStore) AddCompanyMember(ctx context.Context, companyID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO company_members (company_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		companyID, userID)
	return err
}

func (s *PostgresStore) CreateDocument(ctx context.Context, d *Document) error {
	return s.db.QueryRowContext(ctx,
		"INSERT INTO documents (company_id, creator_id, title, updated_at) VALUES ($1, $2, $3, $4) RETURNING id",
		d.CompanyID, d.CreatorID, d.Title, d.UpdatedAt).Scan(&d.ID)
}

func (s *PostgresStore) CreateEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRowContext(ctx,
		"INSERT INTO events (creator_id, title, starts_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id",
		e.CreatorID, e.Title, e.StartsAt, e.UpdatedAt).Scan(&e.ID)
}

func (s *PostgresStore) AddEventParticipant(ctx context.Context, eventID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO event_participants (event_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		eventID, userID)
	return err
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *Ticket) error {
	var assignee any
	if t.AssigneeID != 0 {
		assignee = t.AssigneeID
	}
	return s.db.QueryRowContext(ctx,
		"INSERT INTO tickets (requester_id, assignee_id, subject, status, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		t.RequesterID, assignee, t.Subject, t.Status, t.UpdatedAt).Scan(&t.ID)
}
