package asynctimemock

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// pendingTimer is the driver-side half of a scheduled wake-up: something
// the registry holds in its timer multimap until AdvanceTime decides it's
// due. Firing it hands a TimeHandlerGuard to whatever is waiting on the
// paired timerListener, and returns a channel the driver must wait on
// before considering the timer fully handled.
//
// optional marks a pendingTimer whose listener may never be claimed at
// all — currently only an Interval's automatic re-arm after a tick, since
// nothing requires a caller to ever call Tick/PollTick again. AdvanceTime
// still gives these a chance to be claimed like any other timer, but only
// for a bounded grace period before giving up and abandoning them (see
// abandon) instead of blocking on them forever.
type pendingTimer struct {
	trigger  chan struct{}
	fin      handlerFinished
	listener *timerListener
	optional bool
}

// timerListener is the sleeper-side half: whatever called Sleep/SleepUntil
// blocks on wait until the registry fires the paired pendingTimer.
//
// A timerListener's guard may only be handed out once. A second wait call
// after the first has already taken the guard blocks until its context is
// done instead of ever producing a second guard.
type timerListener struct {
	trigger <-chan struct{}

	mu    sync.Mutex
	taken bool
	guard TimeHandlerGuard
}

func newPendingTimer(logger zerolog.Logger, optional bool) (*pendingTimer, *timerListener) {
	guard, fin := newGuardPair(logger)
	trigger := make(chan struct{})
	listener := &timerListener{trigger: trigger, guard: guard}
	return &pendingTimer{trigger: trigger, fin: fin, listener: listener, optional: optional}, listener
}

// fire wakes the paired listener and returns the channel the caller must
// wait on before the timer is considered fully handled (i.e. until the
// listener's side releases the guard it was just handed).
func (t *pendingTimer) fire() <-chan struct{} {
	close(t.trigger)
	return t.fin.wait()
}

// abandon force-completes a fired, optional timer that nothing has
// claimed, releasing its guard on the listener's behalf so a waiting
// AdvanceTime call can conclude instead of blocking on it forever. If the
// listener already claimed the guard itself, this is a no-op: the real
// consumer owns the guard's lifecycle from here, however long it takes.
func (t *pendingTimer) abandon() {
	t.listener.abandon()
}

func (l *timerListener) abandon() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.taken {
		return
	}
	l.taken = true
	l.guard.Release()
}

// wait blocks until the paired pendingTimer fires, returning the guard
// exactly once. A second call (or a second concurrent call) blocks until
// ctx is done.
func (l *timerListener) wait(ctx context.Context) (TimeHandlerGuard, error) {
	select {
	case <-l.trigger:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.taken {
			return l.blockForever(ctx)
		}
		l.taken = true
		return l.guard, nil
	case <-ctx.Done():
		return TimeHandlerGuard{}, ctx.Err()
	}
}

// tryWait is the non-blocking variant used by Interval.PollTick: it reports
// false if the timer hasn't fired yet, without consuming anything.
func (l *timerListener) tryWait() (TimeHandlerGuard, bool) {
	select {
	case <-l.trigger:
	default:
		return TimeHandlerGuard{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.taken {
		return TimeHandlerGuard{}, false
	}
	l.taken = true
	return l.guard, true
}

func (l *timerListener) blockForever(ctx context.Context) (TimeHandlerGuard, error) {
	<-ctx.Done()
	return TimeHandlerGuard{}, ctx.Err()
}
