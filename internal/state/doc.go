// Package state owns the authoritative per-device state table.
//
// The store is the synchronization core of the bridge: it merges updates
// from two independently clocked sources (the bus and the hub), resolves
// conflicts deterministically (the bus always wins), and drives three
// schedulers:
//
//   - poll: actively queries groups that push monitoring has not covered
//   - conflict: clears stuck hub-pending writes and re-announces
//   - cleanup: evicts records with no update for over an hour
//
// Hub commands are applied optimistically so the hub UI feels
// responsive; the bus event that follows is the final authority. The
// eventual-consistency window between the two is deliberate.
//
// One coarse mutex guards the whole table. Change notifications fan out
// through the Notifier interface, and accepted changes are persisted via
// the HistoryRecorder.
package state
