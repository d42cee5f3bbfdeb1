package state

import (
	"context"
	"time"

	"github.com/fawkner/cbus-bridge/internal/cbus"
)

// Run owns the store's schedulers and the bus event consumer.
//
// It runs until ctx is cancelled:
//   - consumes decoded bus events and applies group-state reports
//   - poll ticker at the configured poll interval
//   - conflict ticker (default 5 seconds)
//   - cleanup ticker (default 5 minutes)
//
// All loops stop cooperatively at their next tick or event when ctx is
// cancelled. In-flight writes may be lost; the fresh poll after a
// restart re-syncs.
//
// Parameters:
//   - ctx: Cancellation for all loops
//   - events: Decoded bus events from the client (single consumer)
func (s *Store) Run(ctx context.Context, events <-chan cbus.Event) {
	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()

	conflictTicker := time.NewTicker(s.cfg.ConflictInterval)
	defer conflictTicker.Stop()

	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(event)

		case <-pollTicker.C:
			s.PollTick(ctx)

		case <-conflictTicker.C:
			s.ConflictTick()

		case <-cleanupTicker.C:
			s.CleanupTick(ctx)
		}
	}
}

// handleEvent applies one decoded bus event.
//
// Only group-state reports mutate the table; acks are logged at debug
// level and dropped.
func (s *Store) handleEvent(event cbus.Event) {
	switch event.Kind {
	case cbus.EventGroupState:
		s.ApplyBusEvent(event.Group, event.Level)
	default:
		s.logDebug("ignoring non-state event", "kind", event.Kind.String())
	}
}

func (s *Store) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
