package ledger

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	up      string
}

// migrations is applied in order; each runs once.
var migrations = []migration{
	{
		version: 1,
		name:    "create_captures_table",
		up: `
			CREATE TABLE IF NOT EXISTS captures (
				id TEXT PRIMARY KEY,
				trigger TEXT NOT NULL,
				accepted_at INTEGER NOT NULL,
				outcome TEXT NOT NULL,
				path TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				size INTEGER NOT NULL DEFAULT 0,
				notified BOOLEAN NOT NULL DEFAULT 0,
				notify_status TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_captures_accepted_at
			ON captures(accepted_at DESC);
		`,
	},
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
