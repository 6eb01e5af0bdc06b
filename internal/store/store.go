// Package store persists an audit trail of session lifecycle events in
// SQLite. It tails the event bus so the core never writes to the
// database directly; a crash in the store loses audit rows, not
// sessions.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"reasongate/internal/bus"
	"reasongate/internal/types"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// InMemory is the DSN for an ephemeral store.
const InMemory = ":memory:"

// Store wraps a sql.DB connection to the audit database.
type Store struct {
	conn *sql.DB
	log  *zap.Logger
}

// AuditEvent is one persisted lifecycle event.
type AuditEvent struct {
	ID         int64
	SessionID  string
	Kind       string
	Detail     string
	OccurredAt string
}

// SessionRow is the persisted summary of one session.
type SessionRow struct {
	ID        string
	Status    string
	CreatedAt string
	UpdatedAt string
}

// Open creates a connection and runs all pending migrations. Pass
// InMemory for an ephemeral database.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := path
	if path != InMemory {
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{conn: conn, log: log}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Tail subscribes to the bus and persists every event until the
// returned stop function is called. Stop blocks until the writer
// goroutine has drained.
func (s *Store) Tail(events *bus.Bus) (stop func()) {
	ch, unsub := events.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range ch {
			if err := s.RecordEvent(ev); err != nil {
				s.log.Warn("audit write failed", zap.String("kind", ev.Kind), zap.Error(err))
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			wg.Wait()
		})
	}
}

// RecordEvent stores one lifecycle event and keeps the session summary
// row in step with it.
func (s *Store) RecordEvent(ev bus.Event) error {
	when := ev.Time
	if when.IsZero() {
		when = time.Now()
	}
	ts := when.UTC().Format(time.RFC3339)

	_, err := s.conn.Exec(
		`INSERT INTO audit_events (session_id, kind, detail, occurred_at) VALUES (?, ?, ?, ?)`,
		ev.SessionID, ev.Kind, ev.Detail, ts,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	if ev.SessionID == "" {
		return nil
	}
	status, ok := statusFromKind(ev.Kind)
	if !ok {
		return nil
	}
	_, err = s.conn.Exec(
		`INSERT INTO sessions (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		ev.SessionID, status, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", ev.SessionID, err)
	}
	return nil
}

func statusFromKind(kind string) (string, bool) {
	switch kind {
	case "session_created":
		return "active", true
	case "session_completing":
		return "completing", true
	case "session_completed":
		return "completed", true
	case "session_abandoned":
		return "abandoned", true
	case "session_reclaimed":
		return "reclaimed", true
	}
	return "", false
}

// SessionEvents returns the audit trail for one session, oldest first.
func (s *Store) SessionEvents(sessionID string) ([]AuditEvent, error) {
	rows, err := s.conn.Query(
		`SELECT id, session_id, kind, COALESCE(detail, ''), occurred_at
		 FROM audit_events WHERE session_id = ? ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("session events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentEvents returns the newest events first, up to limit.
func (s *Store) RecentEvents(limit int) ([]AuditEvent, error) {
	rows, err := s.conn.Query(
		`SELECT id, COALESCE(session_id, ''), kind, COALESCE(detail, ''), occurred_at
		 FROM audit_events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Session returns the summary row for id, or nil if unknown.
func (s *Store) Session(id string) (*SessionRow, error) {
	row := s.conn.QueryRow(`SELECT id, status, created_at, updated_at FROM sessions WHERE id = ?`, id)
	sr := &SessionRow{}
	err := row.Scan(&sr.ID, &sr.Status, &sr.CreatedAt, &sr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sr, nil
}

// Sessions lists summary rows ordered by last update, newest first.
func (s *Store) Sessions(limit int) ([]SessionRow, error) {
	rows, err := s.conn.Query(
		`SELECT id, status, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []SessionRow
	for rows.Next() {
		var sr SessionRow
		if err := rows.Scan(&sr.ID, &sr.Status, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// SaveResult persists the finalized analysis payload for a session.
// Saving again overwrites the previous payload.
func (s *Store) SaveResult(sessionID string, result types.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.conn.Exec(
		`INSERT INTO results (session_id, payload, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload, stored_at = excluded.stored_at`,
		sessionID, string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save result %s: %w", sessionID, err)
	}
	return nil
}

// Result loads the stored analysis payload for a session, or nil if
// none was saved.
func (s *Store) Result(sessionID string) (*types.AnalysisResult, error) {
	var payload string
	err := s.conn.QueryRow(`SELECT payload FROM results WHERE session_id = ?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", sessionID, err)
	}
	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", sessionID, err)
	}
	return &result, nil
}
