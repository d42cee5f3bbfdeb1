package state

import (
	"context"
	"time"
)

// HistoryRecorder persists accepted state changes.
//
// The store calls Record once per accepted level change and Prune from
// the cleanup scheduler. Implementations must be safe for concurrent
// use. A nil recorder disables history entirely.
type HistoryRecorder interface {
	// Record appends one accepted change.
	Record(ctx context.Context, group, level int, on bool, source string) error

	// Prune deletes records older than the retention window and returns
	// the number deleted.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
