package asynctimemock

import (
	"context"
	"time"
)

// MissedTickBehavior controls how an Interval catches up after a tick is
// observed later than its deadline (i.e. later than deadline +
// the interval's missed-tick threshold).
type MissedTickBehavior int

const (
	// Burst fires the next tick as soon as possible and keeps scheduling
	// subsequent ticks at the original cadence (tick_time + period),
	// regardless of lateness. If the caller fell far behind, several ticks
	// may be available back-to-back.
	Burst MissedTickBehavior = iota
	// Delay resets the cadence from the moment the late tick was actually
	// observed (now + period) instead of from its original deadline,
	// trading cadence fidelity for never bursting.
	Delay
	// Skip drops every tick that would already be overdue, advancing the
	// deadline forward by whole periods until it's no longer behind now.
	Skip
)

// Interval is a restartable, periodic virtual-time wake-up. It is returned
// by Clock.Interval / Clock.IntervalAt and has two implementations: one
// backed by a Registry (full missed-tick state machine) and one backed by
// the real clock (backed by time.Timer, same missed-tick math against wall
// time).
type Interval interface {
	// Tick blocks until the next tick is due, returning the guard for that
	// tick and the Instant it was scheduled for.
	Tick(ctx context.Context) (TimeHandlerGuard, Instant, error)
	// PollTick is the non-blocking variant: it reports false immediately if
	// the next tick isn't due yet, without consuming anything.
	PollTick() (TimeHandlerGuard, Instant, bool)
	// Reset reschedules the next tick to Period() from now, discarding any
	// tick currently pending.
	Reset()
	Period() time.Duration
	MissedTickBehavior() MissedTickBehavior
	SetMissedTickBehavior(MissedTickBehavior)
	SetMissedTickThreshold(time.Duration)
}

// nextDeadlineOffset computes the next scheduling offset given the offset a
// tick was due at (tickAt), the offset "now" actually is (nowAt), the
// interval's period, its missed-tick threshold, and its policy. All offsets
// share a single reference point (a Registry's epoch, or the real clock's
// epoch) so the same pure function serves both Interval implementations.
func nextDeadlineOffset(tickAt, nowAt, period, threshold time.Duration, behavior MissedTickBehavior) time.Duration {
	late := nowAt > tickAt+threshold
	switch behavior {
	case Delay:
		if late {
			return nowAt + period
		}
		return tickAt + period
	case Skip:
		next := tickAt + period
		if late {
			for next <= nowAt {
				next += period
			}
		}
		return next
	default: // Burst
		return tickAt + period
	}
}

// mockInterval is the Registry-backed Interval implementation: the
// Burst/Delay/Skip missed-tick state machine.
type mockInterval struct {
	registry     *Registry
	period       time.Duration
	threshold    time.Duration
	behavior     MissedTickBehavior
	nextDeadline time.Duration // offset within registry's timeline
	pending      *timerListener
}

func newMockInterval(r *Registry, start, period time.Duration) *mockInterval {
	iv := &mockInterval{
		registry:     r,
		period:       period,
		threshold:    0,
		behavior:     Burst,
		nextDeadline: start,
	}
	iv.pending = r.schedule(start, false)
	return iv
}

func (iv *mockInterval) Tick(ctx context.Context) (TimeHandlerGuard, Instant, error) {
	guard, err := iv.pending.wait(ctx)
	if err != nil {
		return TimeHandlerGuard{}, Instant{}, err
	}
	tickAt := iv.nextDeadline
	iv.advance()
	return guard, newInstant(tickAt, iv.registry.id), nil
}

func (iv *mockInterval) PollTick() (TimeHandlerGuard, Instant, bool) {
	guard, ok := iv.pending.tryWait()
	if !ok {
		return TimeHandlerGuard{}, Instant{}, false
	}
	tickAt := iv.nextDeadline
	iv.advance()
	return guard, newInstant(tickAt, iv.registry.id), true
}

// advance rearms the interval for the next tick, given that the one
// scheduled for nextDeadline just fired. The new pending timer is optional:
// nothing requires the caller to ever call Tick/PollTick again, so
// AdvanceTime must not block forever waiting for it to be claimed.
func (iv *mockInterval) advance() {
	tickAt := iv.nextDeadline
	now := iv.registry.horizon()
	next := nextDeadlineOffset(tickAt, now, iv.period, iv.threshold, iv.behavior)
	iv.nextDeadline = next
	iv.pending = iv.registry.schedule(next, true)
}

func (iv *mockInterval) Reset() {
	iv.pending.abandon()
	now := iv.registry.Now()
	next := now.offset + iv.period
	iv.nextDeadline = next
	iv.pending = iv.registry.schedule(next, false)
}

func (iv *mockInterval) Period() time.Duration                       { return iv.period }
func (iv *mockInterval) MissedTickBehavior() MissedTickBehavior       { return iv.behavior }
func (iv *mockInterval) SetMissedTickBehavior(b MissedTickBehavior)   { iv.behavior = b }
func (iv *mockInterval) SetMissedTickThreshold(d time.Duration)      { iv.threshold = d }

// realInterval is the wall-clock-backed Interval implementation, used by
// the real Clock arm. It shares nextDeadlineOffset's missed-tick math with
// mockInterval, measured as nanosecond offsets from the real clock's epoch.
type realInterval struct {
	epoch        time.Time
	period       time.Duration
	threshold    time.Duration
	behavior     MissedTickBehavior
	nextDeadline time.Duration
	timer        *time.Timer
}

func newRealInterval(epoch, start time.Time, period time.Duration) *realInterval {
	offset := start.Sub(epoch)
	return &realInterval{
		epoch:        epoch,
		period:       period,
		threshold:    5 * time.Millisecond,
		behavior:     Burst,
		nextDeadline: offset,
		timer:        time.NewTimer(time.Until(start)),
	}
}

func (iv *realInterval) Tick(ctx context.Context) (TimeHandlerGuard, Instant, error) {
	select {
	case <-iv.timer.C:
	case <-ctx.Done():
		return TimeHandlerGuard{}, Instant{}, ctx.Err()
	}
	return iv.advance()
}

func (iv *realInterval) PollTick() (TimeHandlerGuard, Instant, bool) {
	select {
	case <-iv.timer.C:
	default:
		return TimeHandlerGuard{}, Instant{}, false
	}
	guard, at, _ := iv.advance()
	return guard, at, true
}

func (iv *realInterval) advance() (TimeHandlerGuard, Instant, error) {
	tickAt := iv.nextDeadline
	now := time.Since(iv.epoch)
	next := nextDeadlineOffset(tickAt, now, iv.period, iv.threshold, iv.behavior)
	iv.nextDeadline = next
	iv.timer.Reset(iv.epoch.Add(next).Sub(time.Now()))
	return newReleasedGuard(), newInstant(tickAt, realClockRegistryID), nil
}

func (iv *realInterval) Reset() {
	now := time.Now()
	next := now.Sub(iv.epoch) + iv.period
	iv.nextDeadline = next
	iv.timer.Reset(iv.epoch.Add(next).Sub(now))
}

func (iv *realInterval) Period() time.Duration                     { return iv.period }
func (iv *realInterval) MissedTickBehavior() MissedTickBehavior     { return iv.behavior }
func (iv *realInterval) SetMissedTickBehavior(b MissedTickBehavior) { iv.behavior = b }
func (iv *realInterval) SetMissedTickThreshold(d time.Duration)     { iv.threshold = d }
