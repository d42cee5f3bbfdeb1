package state

import (
	"context"
	"fmt"
	"time"

	"github.com/fawkner/cbus-bridge/internal/infrastructure/database"
)

// SQLiteHistory persists state changes to the state_history table.
//
// One row per accepted change, tagged with the bridge's network and
// application ids so multi-bridge installations can share a database.
type SQLiteHistory struct {
	db          *database.DB
	network     int
	application int
}

// NewSQLiteHistory creates a recorder writing to db.
//
// The caller is responsible for having run database.InitSchema first.
func NewSQLiteHistory(db *database.DB, network, application int) *SQLiteHistory {
	return &SQLiteHistory{
		db:          db,
		network:     network,
		application: application,
	}
}

// Record appends one accepted change.
func (h *SQLiteHistory) Record(ctx context.Context, group, level int, on bool, source string) error {
	onVal := 0
	if on {
		onVal = 1
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO state_history (network, application, group_addr, level, on_state, source)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		h.network, h.application, group, level, onVal, source)
	if err != nil {
		return fmt.Errorf("recording state history: %w", err)
	}
	return nil
}

// Prune deletes records older than the retention window.
func (h *SQLiteHistory) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()

	result, err := h.db.ExecContext(ctx,
		`DELETE FROM state_history WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return deleted, nil
}

// Recent returns the most recent changes for one group, newest first.
//
// Used by diagnostics; limit caps the result size.
func (h *SQLiteHistory) Recent(ctx context.Context, group, limit int) ([]HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT group_addr, level, on_state, source, recorded_at
		 FROM state_history
		 WHERE network = ? AND application = ? AND group_addr = ?
		 ORDER BY recorded_at DESC
		 LIMIT ?`,
		h.network, h.application, group, limit)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var onVal int
		if err := rows.Scan(&e.Group, &e.Level, &onVal, &e.Source, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.On = onVal != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading state history: %w", err)
	}
	return entries, nil
}

// HistoryEntry is one persisted state change.
type HistoryEntry struct {
	Group      int
	Level      int
	On         bool
	Source     string
	RecordedAt time.Time
}
