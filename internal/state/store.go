package state

import (
	"context"
	"sync"
	"time"

	"github.com/fawkner/cbus-bridge/internal/cbus"
)

// Source identifies which side produced the last accepted value for a device.
type Source string

// Update sources.
const (
	SourceBus     Source = "bus"
	SourceHub     Source = "hub"
	SourcePoll    Source = "poll"
	SourceUnknown Source = "unknown"
)

// Scheduler defaults.
const (
	// defaultPollInterval is the poll scheduler period P.
	defaultPollInterval = 30 * time.Second

	// defaultConflictInterval is the conflict check period.
	defaultConflictInterval = 5 * time.Second

	// defaultCleanupInterval is the eviction sweep period.
	defaultCleanupInterval = 5 * time.Minute

	// defaultMaxAge is the eviction threshold: devices with no update for
	// this long are dropped from the table.
	defaultMaxAge = time.Hour

	// staleFactor: a device is stale when its last update is older than
	// staleFactor * poll interval, which forces a poll even when push
	// events are flowing.
	staleFactor = 2
)

// DeviceState is the authoritative record for one group address.
//
// The invariant On == (Level > 0) holds after every mutation; all
// mutation goes through the store's update path which recomputes On.
type DeviceState struct {
	// Group is the C-Bus group address (0-255), unique key.
	Group int

	// Level is the brightness level (0-255, 0 = off).
	Level int

	// On is derived: true iff Level > 0.
	On bool

	// LastUpdated is the time of the last accepted mutation.
	LastUpdated time.Time

	// LastSource is which side produced the last accepted value.
	LastSource Source

	// LastBusUpdate and LastHubUpdate track per-source freshness for
	// staleness detection and conflict arbitration.
	LastBusUpdate time.Time
	LastHubUpdate time.Time

	// PendingHubWrite marks an in-flight hub-bound announcement awaiting
	// confirmation; PendingBusWrite marks an optimistic hub command
	// awaiting the bus echo. Bus events clear both.
	PendingHubWrite bool
	PendingBusWrite bool

	// pollPending marks a query issued by the poll scheduler whose answer
	// has not arrived yet; the next bus report for the group is
	// attributed to SourcePoll.
	pollPending bool
}

// Notifier receives state-change notifications from the store.
//
// Notifications fire only on an actual level or on/off transition, plus
// conflict re-announcements. The bridge dispatcher is the primary
// implementation.
type Notifier interface {
	NotifyStateChanged(state DeviceState)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(state DeviceState)

// NotifyStateChanged calls f(state).
func (f NotifierFunc) NotifyStateChanged(state DeviceState) {
	f(state)
}

// Notifiers fans one notification out to several notifiers in order.
type Notifiers []Notifier

// NotifyStateChanged delivers the state to every notifier.
func (n Notifiers) NotifyStateChanged(state DeviceState) {
	for _, notifier := range n {
		notifier.NotifyStateChanged(state)
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds store configuration.
type Config struct {
	// PollInterval is the poll scheduler period P. Default: 30 seconds.
	PollInterval time.Duration

	// ConflictInterval is the conflict check period. Default: 5 seconds.
	ConflictInterval time.Duration

	// CleanupInterval is the eviction sweep period. Default: 5 minutes.
	CleanupInterval time.Duration

	// MaxAge is the eviction threshold. Default: 1 hour.
	MaxAge time.Duration
}

// Stats holds store statistics.
type Stats struct {
	DevicesTracked  int
	Conflicts       uint64
	Evictions       uint64
	Notifications   uint64
	PollsIssued     uint64
	CommandFailures uint64
}

// Store is the authoritative per-device state table.
//
// It resolves conflicting writes between the bus and the hub (bus always
// wins), and drives the poll, conflict and cleanup schedulers.
//
// Concurrency discipline: one coarse mutex guards the whole table; every
// public operation holds it for its full duration. Update volume is
// home-automation scale, so correctness beats throughput here.
type Store struct {
	cfg       Config
	commander cbus.Commander
	notifier  Notifier
	history   HistoryRecorder

	mu      sync.Mutex
	devices map[int]*DeviceState

	// Counters (guarded by mu).
	conflicts       uint64
	evictions       uint64
	notifications   uint64
	pollsIssued     uint64
	commandFailures uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Store.
//
// Parameters:
//   - cfg: Scheduler periods; zero values take defaults
//   - commander: Bus command surface (may be nil in tests that never poll)
//   - notifier: Change notification sink (may be nil)
//   - history: Persistent change log (may be nil to disable)
//
// Returns:
//   - *Store: Empty store; call Seed to pre-create configured devices
func New(cfg Config, commander cbus.Commander, notifier Notifier, history HistoryRecorder) *Store {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ConflictInterval <= 0 {
		cfg.ConflictInterval = defaultConflictInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}

	return &Store{
		cfg:       cfg,
		commander: commander,
		notifier:  notifier,
		history:   history,
		devices:   make(map[int]*DeviceState),
	}
}

// Seed eagerly creates state records for statically configured groups.
//
// Seeded devices start at level 0 with SourceUnknown; the first poll or
// bus event corrects them.
func (s *Store) Seed(groups []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, group := range groups {
		if _, exists := s.devices[group]; exists {
			continue
		}
		s.devices[group] = &DeviceState{
			Group:       group,
			LastSource:  SourceUnknown,
			LastUpdated: now,
		}
	}
}

// getOrCreateLocked returns the record for group, creating it lazily.
// Caller must hold s.mu.
func (s *Store) getOrCreateLocked(group int) *DeviceState {
	if d, ok := s.devices[group]; ok {
		return d
	}
	d := &DeviceState{
		Group:      group,
		LastSource: SourceUnknown,
	}
	s.devices[group] = d
	return d
}

// ApplyBusEvent applies a group-state event from the bus.
//
// The bus is ground truth: the value always wins, both pending flags are
// cleared, and any outstanding hub conflict is resolved in the bus's
// favour. A change notification fires only when the level or on/off
// state actually changed; an identical repeat refreshes timestamps
// silently.
//
// Parameters:
//   - group: Group address (0-255)
//   - level: Reported level (0-255)
func (s *Store) ApplyBusEvent(group, level int) {
	s.mu.Lock()

	d := s.getOrCreateLocked(group)
	changed := d.Level != level || d.On != (level > 0)

	source := SourceBus
	if d.pollPending {
		source = SourcePoll
		d.pollPending = false
	}

	now := time.Now()
	d.Level = level
	d.On = level > 0
	d.LastSource = source
	d.LastUpdated = now
	d.LastBusUpdate = now
	d.PendingBusWrite = false
	d.PendingHubWrite = false

	var snapshot DeviceState
	if changed {
		snapshot = *d
		s.notifications++
	}

	s.mu.Unlock()

	if changed {
		s.notify(snapshot)
		s.record(snapshot, string(source))
	}
}

// ApplyHubCommand applies a level command from the hub.
//
// The value is recorded optimistically (the hub UI sees the new state
// immediately) and the matching bus command is issued; the bus event
// that follows is the final authority. PendingBusWrite stays set until
// that confirmation arrives.
//
// A transport failure leaves the optimistic state in place and is
// reported to the caller; the next poll tick re-syncs naturally.
//
// Parameters:
//   - ctx: Context for the bus command
//   - group: Group address (0-255)
//   - level: Desired level (0-255)
//
// Returns:
//   - error: If issuing the bus command failed
func (s *Store) ApplyHubCommand(ctx context.Context, group, level int) error {
	return s.applyHubCommand(ctx, group, level, func() error {
		return s.commander.SetLevel(ctx, group, level)
	})
}

// ApplyHubRamp is ApplyHubCommand with a ramp time.
//
// The optimistic record holds the target level; intermediate levels
// reported by the bus during the ramp flow through ApplyBusEvent.
func (s *Store) ApplyHubRamp(ctx context.Context, group, level, ramp int) error {
	return s.applyHubCommand(ctx, group, level, func() error {
		return s.commander.Ramp(ctx, group, level, ramp)
	})
}

func (s *Store) applyHubCommand(_ context.Context, group, level int, send func() error) error {
	s.mu.Lock()

	d := s.getOrCreateLocked(group)
	changed := d.Level != level || d.On != (level > 0)

	now := time.Now()
	d.Level = level
	d.On = level > 0
	d.LastSource = SourceHub
	d.LastUpdated = now
	d.LastHubUpdate = now
	d.PendingBusWrite = true

	var snapshot DeviceState
	if changed {
		snapshot = *d
		s.notifications++
	}

	s.mu.Unlock()

	if changed {
		s.notify(snapshot)
		s.record(snapshot, string(SourceHub))
	}

	if err := send(); err != nil {
		s.mu.Lock()
		s.commandFailures++
		s.mu.Unlock()
		s.logWarn("bus command failed, state left optimistic", "group", group, "error", err)
		return err
	}

	return nil
}

// Get returns a snapshot of one device's state.
//
// The snapshot is atomic: callers see either the pre- or post-update
// record, never a partially updated one.
func (s *Store) Get(group int) (DeviceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[group]
	if !ok {
		return DeviceState{}, false
	}
	return *d, true
}

// GetAll returns a snapshot of every tracked device.
func (s *Store) GetAll() []DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeviceState, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	return out
}

// PollTick actively queries devices that push monitoring has not covered.
//
// Per device: a bus event within the last poll interval P suppresses the
// query (push is trusted over polling), unless the record has gone fully
// stale (no update of any kind for 2P), which forces one. Queries are
// serialized through the bus client's outbound queue, which enforces the
// inter-command gap.
//
// Transport errors are counted and logged but do not abort the tick.
func (s *Store) PollTick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var toQuery []int
	for group, d := range s.devices {
		fresh := !d.LastBusUpdate.IsZero() && now.Sub(d.LastBusUpdate) < s.cfg.PollInterval
		stale := now.Sub(d.LastUpdated) >= staleFactor*s.cfg.PollInterval
		if fresh && !stale {
			continue
		}
		toQuery = append(toQuery, group)
	}
	s.mu.Unlock()

	for _, group := range toQuery {
		if err := s.commander.QueryLevel(ctx, group); err != nil {
			s.mu.Lock()
			s.commandFailures++
			s.mu.Unlock()
			s.logWarn("poll query failed", "group", group, "error", err)
			continue
		}
		s.mu.Lock()
		s.pollsIssued++
		if d, ok := s.devices[group]; ok {
			d.pollPending = true
		}
		s.mu.Unlock()
	}
}

// ConflictTick resolves simultaneous pending writes.
//
// When a device has both PendingHubWrite and PendingBusWrite set (both
// sides wrote before either confirmed), the bus wins: the hub-pending
// flag is cleared, the conflict counter increments, and the current
// value is re-announced downstream so the hub converges.
func (s *Store) ConflictTick() {
	s.mu.Lock()

	var reannounce []DeviceState
	for _, d := range s.devices {
		if d.PendingHubWrite && d.PendingBusWrite {
			d.PendingHubWrite = false
			s.conflicts++
			s.notifications++
			reannounce = append(reannounce, *d)
		}
	}

	s.mu.Unlock()

	for _, snapshot := range reannounce {
		s.logInfo("write conflict resolved in favour of bus",
			"group", snapshot.Group, "level", snapshot.Level)
		s.notify(snapshot)
	}
}

// CleanupTick evicts devices that have not updated within MaxAge, and
// prunes the persistent history to the same horizon. Abandoned groups
// should not accumulate forever.
func (s *Store) CleanupTick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var evicted []int
	for group, d := range s.devices {
		if now.Sub(d.LastUpdated) > s.cfg.MaxAge {
			delete(s.devices, group)
			s.evictions++
			evicted = append(evicted, group)
		}
	}
	s.mu.Unlock()

	for _, group := range evicted {
		s.logInfo("evicted stale device", "group", group)
	}

	if s.history != nil {
		if _, err := s.history.Prune(ctx, s.cfg.MaxAge); err != nil {
			s.logWarn("history prune failed", "error", err)
		}
	}
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		DevicesTracked:  len(s.devices),
		Conflicts:       s.conflicts,
		Evictions:       s.evictions,
		Notifications:   s.notifications,
		PollsIssued:     s.pollsIssued,
		CommandFailures: s.commandFailures,
	}
}

// SetLogger sets the logger for this store.
func (s *Store) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// SetNotifier replaces the change notification sink. The dispatcher is
// constructed after the store it drives, so wiring happens in two
// steps; call this before Run starts.
func (s *Store) SetNotifier(notifier Notifier) {
	s.mu.Lock()
	s.notifier = notifier
	s.mu.Unlock()
}

// notify delivers a change notification outside the table lock.
func (s *Store) notify(snapshot DeviceState) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyStateChanged(snapshot)
}

// record appends an accepted change to the persistent history.
func (s *Store) record(snapshot DeviceState, source string) {
	if s.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.history.Record(ctx, snapshot.Group, snapshot.Level, snapshot.On, source); err != nil {
		s.logWarn("history record failed", "group", snapshot.Group, "error", err)
	}
}

func (s *Store) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Store) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
