package database

import (
	"context"
	"fmt"
)

// schemaStatements creates the tables the bridge persists to.
//
// state_history is an append-only log of accepted group level changes.
// Rows are pruned by the store's cleanup scheduler, not by the database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS state_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		network     INTEGER NOT NULL,
		application INTEGER NOT NULL,
		group_addr  INTEGER NOT NULL,
		level       INTEGER NOT NULL,
		on_state    INTEGER NOT NULL,
		source      TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_state_history_group
		ON state_history(network, application, group_addr, recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_state_history_recorded_at
		ON state_history(recorded_at)`,
}

// InitSchema creates the bridge's tables if they do not exist.
//
// Safe to call on every startup; all statements are idempotent.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If any schema statement fails
func (db *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialising schema: %w", err)
		}
	}
	return nil
}
