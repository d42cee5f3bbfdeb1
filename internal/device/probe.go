package device

import (
	"context"
	"time"

	"github.com/fawkner/cbus-bridge/internal/cbus"
)

// Probe parameters. A dimmable channel settles at the test level; a
// relay channel snaps to 0 or 255, well outside the tolerance band.
const (
	probeTestLevel = 128
	probeTolerance = 20

	defaultProbeSettle = 2 * time.Second
)

// LevelReader reports the last known level for a group and whether
// any level has been observed at all. The state store satisfies this.
type LevelReader func(group int) (level int, known bool)

// Prober runs operator-invoked dimmability probes.
//
// A probe drives the group to an intermediate level, waits for the
// channel to settle, queries it back, and compares. The original
// level is restored afterwards regardless of outcome. Probing is
// intrusive (the light visibly changes), so it only ever runs on
// explicit request.
type Prober struct {
	commander cbus.Commander
	readLevel LevelReader
	registry  *Registry

	// settle overrides the wait between command and read-back.
	// Zero means defaultProbeSettle.
	settle time.Duration
}

// NewProber creates a prober bound to a commander, a level source and
// the registry to record results in.
func NewProber(commander cbus.Commander, readLevel LevelReader, registry *Registry) *Prober {
	return &Prober{
		commander: commander,
		readLevel: readLevel,
		registry:  registry,
	}
}

// ProbeDimmable determines whether a group's channel accepts
// intermediate levels and records the result in the registry.
//
// The original level is captured first and restored before returning.
// If the read-back never arrives the probe restores and returns
// ErrProbeInconclusive without changing the registry.
//
// Parameters:
//   - ctx: Cancellation; a cancelled probe still restores the level
//   - group: Group address to probe (0-255)
//
// Returns:
//   - bool: True if the channel held an intermediate level
//   - error: ErrProbeInconclusive, or a command error from the bus
func (p *Prober) ProbeDimmable(ctx context.Context, group int) (bool, error) {
	original, hadLevel := p.readLevel(group)

	if err := p.commander.SetLevel(ctx, group, probeTestLevel); err != nil {
		return false, err
	}

	settle := p.settle
	if settle == 0 {
		settle = defaultProbeSettle
	}

	if err := p.wait(ctx, settle); err != nil {
		p.restore(group, original, hadLevel)
		return false, err
	}

	if err := p.commander.QueryLevel(ctx, group); err != nil {
		p.restore(group, original, hadLevel)
		return false, err
	}

	if err := p.wait(ctx, settle); err != nil {
		p.restore(group, original, hadLevel)
		return false, err
	}

	observed, known := p.readLevel(group)
	p.restore(group, original, hadLevel)

	if !known {
		return false, ErrProbeInconclusive
	}

	dimmable := abs(observed-probeTestLevel) <= probeTolerance
	p.registry.SetDimmable(group, dimmable)
	return dimmable, nil
}

// restore puts the group back at its pre-probe level. Groups with no
// known prior level are switched off.
func (p *Prober) restore(group, original int, hadLevel bool) {
	if !hadLevel {
		original = 0
	}
	// Best effort; the next poll corrects any miss. Restore runs even
	// when the caller's context is already cancelled.
	_ = p.commander.SetLevel(context.Background(), group, original)
}

func (p *Prober) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
