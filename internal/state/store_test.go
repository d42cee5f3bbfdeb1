package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fawkner/cbus-bridge/internal/cbus"
)

// fakeCommander records bus commands instead of sending them.
type fakeCommander struct {
	mu        sync.Mutex
	setLevels [][2]int // group, level
	ramps     [][3]int // group, level, ramp
	queries   []int
	failAll   bool
}

func (f *fakeCommander) SetLevel(_ context.Context, group, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return cbus.ErrNotConnected
	}
	f.setLevels = append(f.setLevels, [2]int{group, level})
	return nil
}

func (f *fakeCommander) Ramp(_ context.Context, group, level, ramp int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return cbus.ErrNotConnected
	}
	f.ramps = append(f.ramps, [3]int{group, level, ramp})
	return nil
}

func (f *fakeCommander) QueryLevel(_ context.Context, group int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return cbus.ErrNotConnected
	}
	f.queries = append(f.queries, group)
	return nil
}

func (f *fakeCommander) QueryStatus(_ context.Context) error { return nil }
func (f *fakeCommander) IsConnected() bool                   { return true }
func (f *fakeCommander) Stats() cbus.Stats                   { return cbus.Stats{} }
func (f *fakeCommander) Close() error                        { return nil }

func (f *fakeCommander) queriedGroups() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.queries))
	copy(out, f.queries)
	return out
}

// recordingNotifier collects change notifications.
type recordingNotifier struct {
	mu     sync.Mutex
	events []DeviceState
}

func (r *recordingNotifier) NotifyStateChanged(state DeviceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, state)
}

func (r *recordingNotifier) all() []DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeviceState, len(r.events))
	copy(out, r.events)
	return out
}

func newTestStore() (*Store, *fakeCommander, *recordingNotifier) {
	commander := &fakeCommander{}
	notifier := &recordingNotifier{}
	store := New(Config{}, commander, notifier, nil)
	return store, commander, notifier
}

func TestApplyBusEvent_OnDerivedFromLevel(t *testing.T) {
	store, _, _ := newTestStore()

	tests := []struct {
		name  string
		level int
		want  bool
	}{
		{name: "off", level: 0, want: false},
		{name: "dim", level: 1, want: true},
		{name: "full", level: 255, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.ApplyBusEvent(21, tt.level)

			d, ok := store.Get(21)
			if !ok {
				t.Fatal("device not tracked after bus event")
			}
			if d.On != tt.want {
				t.Errorf("On = %v for level %d, want %v", d.On, tt.level, tt.want)
			}
			if d.On != (d.Level > 0) {
				t.Errorf("invariant violated: On=%v Level=%d", d.On, d.Level)
			}
		})
	}
}

func TestApplyBusEvent_ClearsPendingFlags(t *testing.T) {
	store, _, _ := newTestStore()

	if err := store.ApplyHubCommand(context.Background(), 21, 200); err != nil {
		t.Fatalf("ApplyHubCommand() error = %v", err)
	}

	store.mu.Lock()
	store.devices[21].PendingHubWrite = true
	store.mu.Unlock()

	store.ApplyBusEvent(21, 200)

	d, _ := store.Get(21)
	if d.PendingBusWrite || d.PendingHubWrite {
		t.Errorf("pending flags after bus event = (%v, %v), want both false",
			d.PendingBusWrite, d.PendingHubWrite)
	}
	if d.LastSource != SourceBus {
		t.Errorf("LastSource = %q, want %q", d.LastSource, SourceBus)
	}
}

func TestApplyBusEvent_IdempotentNoDuplicateNotification(t *testing.T) {
	store, _, notifier := newTestStore()

	store.ApplyBusEvent(21, 100)
	first, _ := store.Get(21)

	time.Sleep(5 * time.Millisecond)
	store.ApplyBusEvent(21, 100)
	second, _ := store.Get(21)

	if second.Level != 100 || second.On != true {
		t.Errorf("state changed on identical repeat: %+v", second)
	}
	if !second.LastUpdated.After(first.LastUpdated) {
		t.Error("LastUpdated not refreshed on identical repeat")
	}

	if got := len(notifier.all()); got != 1 {
		t.Errorf("notifications = %d, want 1 (no duplicate for unchanged value)", got)
	}
}

func TestApplyHubCommand_OptimisticWrite(t *testing.T) {
	store, commander, notifier := newTestStore()

	if err := store.ApplyHubCommand(context.Background(), 21, 200); err != nil {
		t.Fatalf("ApplyHubCommand() error = %v", err)
	}

	// State applied immediately, before any bus confirmation
	d, ok := store.Get(21)
	if !ok {
		t.Fatal("device not tracked after hub command")
	}
	if d.Level != 200 || !d.On {
		t.Errorf("state = level %d on %v, want 200/true", d.Level, d.On)
	}
	if !d.PendingBusWrite {
		t.Error("expected PendingBusWrite after optimistic hub command")
	}
	if d.LastSource != SourceHub {
		t.Errorf("LastSource = %q, want %q", d.LastSource, SourceHub)
	}

	// Bus command issued
	commander.mu.Lock()
	sent := len(commander.setLevels) == 1 && commander.setLevels[0] == [2]int{21, 200}
	commander.mu.Unlock()
	if !sent {
		t.Errorf("bus command not issued correctly: %v", commander.setLevels)
	}

	if got := len(notifier.all()); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestApplyHubCommand_TransportFailureKeepsOptimisticState(t *testing.T) {
	store, commander, _ := newTestStore()
	commander.failAll = true

	err := store.ApplyHubCommand(context.Background(), 21, 200)
	if !errors.Is(err, cbus.ErrNotConnected) {
		t.Fatalf("ApplyHubCommand() error = %v, want ErrNotConnected", err)
	}

	// Optimistic state stays; the next poll re-syncs
	d, _ := store.Get(21)
	if d.Level != 200 {
		t.Errorf("level = %d, want optimistic 200", d.Level)
	}

	if store.Stats().CommandFailures != 1 {
		t.Errorf("CommandFailures = %d, want 1", store.Stats().CommandFailures)
	}
}

func TestApplyHubRamp(t *testing.T) {
	store, commander, _ := newTestStore()

	if err := store.ApplyHubRamp(context.Background(), 21, 128, 4); err != nil {
		t.Fatalf("ApplyHubRamp() error = %v", err)
	}

	d, _ := store.Get(21)
	if d.Level != 128 || !d.PendingBusWrite {
		t.Errorf("state = %+v, want level 128 with PendingBusWrite", d)
	}

	commander.mu.Lock()
	defer commander.mu.Unlock()
	if len(commander.ramps) != 1 || commander.ramps[0] != [3]int{21, 128, 4} {
		t.Errorf("ramp command = %v, want [21 128 4]", commander.ramps)
	}
}

func TestConflictTick_BusWins(t *testing.T) {
	store, _, notifier := newTestStore()

	// Optimistic hub write in flight
	if err := store.ApplyHubCommand(context.Background(), 5, 200); err != nil {
		t.Fatalf("ApplyHubCommand() error = %v", err)
	}

	// Second hub command while a hub-bound write is also lingering
	if err := store.ApplyHubCommand(context.Background(), 5, 180); err != nil {
		t.Fatalf("ApplyHubCommand() error = %v", err)
	}
	store.mu.Lock()
	store.devices[5].PendingHubWrite = true
	store.mu.Unlock()

	before := len(notifier.all())

	store.ConflictTick()

	d, _ := store.Get(5)
	if d.PendingHubWrite {
		t.Error("PendingHubWrite still set after conflict tick")
	}
	if d.Level != 180 {
		t.Errorf("level = %d, want last value 180", d.Level)
	}
	if store.Stats().Conflicts != 1 {
		t.Errorf("Conflicts = %d, want exactly 1", store.Stats().Conflicts)
	}

	// Re-announcement fired
	if got := len(notifier.all()); got != before+1 {
		t.Errorf("notifications = %d, want %d (one re-announcement)", got, before+1)
	}

	// Second tick with no conflict does nothing
	store.ConflictTick()
	if store.Stats().Conflicts != 1 {
		t.Errorf("Conflicts after clean tick = %d, want 1", store.Stats().Conflicts)
	}
}

func TestCleanupTick_EvictsStaleDevices(t *testing.T) {
	store, _, _ := newTestStore()

	store.ApplyBusEvent(21, 100)
	store.ApplyBusEvent(22, 50)

	// Age group 21 past the eviction threshold
	store.mu.Lock()
	store.devices[21].LastUpdated = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	store.CleanupTick(context.Background())

	if _, ok := store.Get(21); ok {
		t.Error("stale device still present after cleanup")
	}
	if _, ok := store.Get(22); !ok {
		t.Error("fresh device evicted by cleanup")
	}

	all := store.GetAll()
	if len(all) != 1 || all[0].Group != 22 {
		t.Errorf("GetAll() = %+v, want only group 22", all)
	}

	if store.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", store.Stats().Evictions)
	}
}

func TestPollTick_SuppressedByRecentBusEvent(t *testing.T) {
	store, commander, _ := newTestStore()

	store.ApplyBusEvent(21, 100) // fresh push event
	store.Seed([]int{30})        // never heard from

	store.PollTick(context.Background())

	queried := commander.queriedGroups()
	for _, g := range queried {
		if g == 21 {
			t.Error("poll issued for group with fresh bus event")
		}
	}

	found := false
	for _, g := range queried {
		if g == 30 {
			found = true
		}
	}
	if !found {
		t.Errorf("seeded group not polled: queried %v", queried)
	}
}

func TestPollTick_StaleForcesQuery(t *testing.T) {
	store, commander, _ := newTestStore()

	store.ApplyBusEvent(21, 100)

	// Bus update looks recent but the record is stale overall
	store.mu.Lock()
	store.devices[21].LastUpdated = time.Now().Add(-3 * defaultPollInterval)
	store.mu.Unlock()

	store.PollTick(context.Background())

	queried := commander.queriedGroups()
	if len(queried) != 1 || queried[0] != 21 {
		t.Errorf("queried = %v, want [21] (staleness forces poll)", queried)
	}
}

func TestPollTick_AttributesResponseToPoll(t *testing.T) {
	store, _, _ := newTestStore()

	store.Seed([]int{30})
	store.PollTick(context.Background())

	// The poll answer arrives as an ordinary group-state report
	store.ApplyBusEvent(30, 80)

	d, _ := store.Get(30)
	if d.LastSource != SourcePoll {
		t.Errorf("LastSource = %q, want %q", d.LastSource, SourcePoll)
	}

	// A later unsolicited report is attributed to the bus
	store.ApplyBusEvent(30, 90)
	d, _ = store.Get(30)
	if d.LastSource != SourceBus {
		t.Errorf("LastSource = %q, want %q", d.LastSource, SourceBus)
	}
}

func TestPollTick_TransportErrorDoesNotAbort(t *testing.T) {
	store, commander, _ := newTestStore()
	commander.failAll = true

	store.Seed([]int{30, 31})
	store.PollTick(context.Background())

	if store.Stats().CommandFailures != 2 {
		t.Errorf("CommandFailures = %d, want 2 (tick visited every group)",
			store.Stats().CommandFailures)
	}
}

func TestSeed(t *testing.T) {
	store, _, _ := newTestStore()

	store.Seed([]int{1, 2, 3})
	store.Seed([]int{2}) // no duplicate

	if got := store.Stats().DevicesTracked; got != 3 {
		t.Errorf("DevicesTracked = %d, want 3", got)
	}

	d, ok := store.Get(1)
	if !ok || d.LastSource != SourceUnknown {
		t.Errorf("seeded device = %+v, want SourceUnknown", d)
	}
}

func TestGet_Snapshot(t *testing.T) {
	store, _, _ := newTestStore()

	store.ApplyBusEvent(21, 100)

	d, _ := store.Get(21)
	d.Level = 999 // mutating the snapshot must not touch the table

	fresh, _ := store.Get(21)
	if fresh.Level != 100 {
		t.Errorf("table mutated through snapshot: level = %d", fresh.Level)
	}
}

func TestNotifiers_FanOut(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}

	fan := Notifiers{a, b}
	fan.NotifyStateChanged(DeviceState{Group: 21, Level: 100, On: true})

	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Errorf("fan-out delivered (%d, %d) notifications, want (1, 1)",
			len(a.all()), len(b.all()))
	}
}
