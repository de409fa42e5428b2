// Package ledger keeps a SQLite history of capture cycles.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cjeanneret/RaspiCam/internal/debug"
	"github.com/cjeanneret/RaspiCam/internal/logic/capture"
)

// Entry is one recorded capture cycle.
type Entry struct {
	ID           string    `json:"id"`
	Trigger      string    `json:"trigger"`
	AcceptedAt   time.Time `json:"accepted_at"`
	Outcome      string    `json:"outcome"`
	Path         string    `json:"path,omitempty"`
	Name         string    `json:"name,omitempty"`
	Size         int64     `json:"size"`
	Notified     bool      `json:"notified"`
	NotifyStatus string    `json:"notify_status"`
	Error        string    `json:"error,omitempty"`
}

// SQLite is a capture.Sink backed by a SQLite database.
type SQLite struct {
	path string
	db   *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations. ":memory:" is accepted.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// An in-memory database lives as long as its connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	debug.Verbose("Ledger opened at %s", path)
	return &SQLite{path: path, db: db}, nil
}

// Path returns the database location.
func (s *SQLite) Path() string { return s.path }

// Record inserts one row per capture event.
func (s *SQLite) Record(ctx context.Context, ev capture.Event) error {
	var errText string
	if ev.Err != nil {
		errText = ev.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captures
			(id, trigger, accepted_at, outcome, path, name, size, notified, notify_status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		string(ev.Trigger),
		ev.AcceptedAt.UTC().UnixNano(),
		ev.Outcome.String(),
		ev.Image.Path,
		ev.Image.Name,
		ev.Image.Size,
		ev.Stored() && ev.Notification.Delivered,
		notifyStatus(ev),
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record capture %s: %w", ev.ID, err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *SQLite) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger, accepted_at, outcome, path, name, size, notified, notify_status, error
		FROM captures
		ORDER BY accepted_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			accepted int64
		)
		if err := rows.Scan(&e.ID, &e.Trigger, &accepted, &e.Outcome, &e.Path, &e.Name,
			&e.Size, &e.Notified, &e.NotifyStatus, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		e.AcceptedAt = time.Unix(0, accepted).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func notifyStatus(ev capture.Event) string {
	if !ev.Stored() {
		return ""
	}
	n := ev.Notification
	switch {
	case n.Skipped:
		return "skipped"
	case n.OK():
		return fmt.Sprintf("delivered %d", n.StatusCode)
	case n.StatusCode != 0:
		return fmt.Sprintf("rejected %d", n.StatusCode)
	default:
		return "failed"
	}
}
