package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: look up a session by either of its items when opening a
	// new handoff for a pairing.
	`CREATE INDEX IF NOT EXISTS idx_handoff_sessions_items
	     ON handoff_sessions(lost_item_id, found_item_id)`,
	// Migration 2: declines are checked from the candidate side as well.
	`CREATE INDEX IF NOT EXISTS idx_declined_pairings_candidate
	     ON declined_pairings(candidate_item_id)`,
	// Migration 3: confirmed pairings, one per item.
	`CREATE TABLE IF NOT EXISTS pairings (
	     lost_item_id  INTEGER NOT NULL UNIQUE REFERENCES items(id),
	     found_item_id INTEGER NOT NULL UNIQUE REFERENCES items(id),
	     confirmed_by  INTEGER REFERENCES users(id),
	     confirmed_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	 )`,
}

// Migrate ensures the schema and runs the migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
