package asynctimemock

import (
	"context"
	"time"
)

// Clock is the façade every production caller should depend on instead of
// the time package directly: a real arm backed by the host clock, and a
// mock arm (*Registry) whose time only passes when driven by AdvanceTime.
//
// Mixing Instants or Intervals between a real Clock and a mock Registry
// (or between two different Registries) panics — see Instant's docs.
type Clock interface {
	Now() Instant
	Sleep(ctx context.Context, d time.Duration) (TimeHandlerGuard, error)
	SleepUntil(ctx context.Context, at Instant) (TimeHandlerGuard, error)
	Interval(period time.Duration) Interval
	IntervalAt(start Instant, period time.Duration) Interval
}

// realClock is the production arm: it delegates to the host's wall clock
// and never blocks on anything but real time and ctx cancellation. Sleep
// and SleepUntil always return an already-released guard, since there is
// no handler-finished synchronization to perform against production time.
type realClock struct {
	loc   *time.Location
	epoch time.Time
}

// NewRealClock returns a Clock that delegates to the host's time package.
func NewRealClock(opts ...RealOption) Clock {
	cfg := resolveRealOptions(opts)
	return &realClock{loc: cfg.loc, epoch: cfg.epoch}
}

func (rc *realClock) wallNow() time.Time {
	t := time.Now()
	if rc.loc != nil {
		t = t.In(rc.loc)
	}
	return t
}

func (rc *realClock) Now() Instant {
	return newInstant(rc.wallNow().Sub(rc.epoch), realClockRegistryID)
}

func (rc *realClock) Sleep(ctx context.Context, d time.Duration) (TimeHandlerGuard, error) {
	if d <= 0 {
		panicNonPositiveSleep()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return newReleasedGuard(), nil
	case <-ctx.Done():
		return TimeHandlerGuard{}, ctx.Err()
	}
}

func (rc *realClock) SleepUntil(ctx context.Context, at Instant) (TimeHandlerGuard, error) {
	if at.registryID != realClockRegistryID {
		panicCrossRegistry(at.registryID, realClockRegistryID)
	}
	target := rc.epoch.Add(at.offset)
	d := time.Until(target)
	if d <= 0 {
		return newReleasedGuard(), nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return newReleasedGuard(), nil
	case <-ctx.Done():
		return TimeHandlerGuard{}, ctx.Err()
	}
}

func (rc *realClock) Interval(period time.Duration) Interval {
	start := rc.wallNow()
	return newRealInterval(rc.epoch, start, period)
}

func (rc *realClock) IntervalAt(start Instant, period time.Duration) Interval {
	if start.registryID != realClockRegistryID {
		panicCrossRegistry(start.registryID, realClockRegistryID)
	}
	return newRealInterval(rc.epoch, rc.epoch.Add(start.offset), period)
}

// Interval on *Registry, completing its Clock implementation (Now, Sleep,
// SleepUntil are defined in registry.go).
func (r *Registry) Interval(period time.Duration) Interval {
	start := r.Now().offset
	return newMockInterval(r, start, period)
}

func (r *Registry) IntervalAt(start Instant, period time.Duration) Interval {
	r.checkOwn(start)
	return newMockInterval(r, start.offset, period)
}
