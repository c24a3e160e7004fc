package asynctimemock

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// TimeHandlerGuard is held by whatever code is reacting to a fired timer,
// and released when that reaction is complete. Registry.AdvanceTime blocks
// on the release of the guard of every non-optional timer (Sleep,
// SleepUntil, an Interval's first tick or the tick Reset installs) before
// moving its virtual clock past the timer that produced it, so a test
// driving the clock forward only observes such a timer's side effects once
// the code that timer woke has actually finished running. For an
// Interval's automatic re-arm it waits only for a bounded grace period
// (see WithAbandonedTimerGrace) and may return while that guard is still
// held.
//
// Its two fields are both pointers/reference types on purpose: every copy
// of a TimeHandlerGuard (it's handed out by value) must share the same
// underlying once and done channel, so that Release from any copy resolves
// the same handler-finished signal exactly once.
type TimeHandlerGuard struct {
	once *sync.Once
	done chan struct{}
}

// handlerFinished is the other half of the pair: whoever scheduled the
// timer waits on this to learn the guard was released.
type handlerFinished struct {
	done chan struct{}
}

// newGuardPair constructs a released-once guard and its matching waiter.
// logger is used only to warn if the guard is garbage-collected without
// ever being released.
func newGuardPair(logger zerolog.Logger) (TimeHandlerGuard, handlerFinished) {
	done := make(chan struct{})
	guard := TimeHandlerGuard{once: &sync.Once{}, done: done}
	armFinalizer(&guard, logger)
	return guard, handlerFinished{done: done}
}

// newReleasedGuard returns a guard that is already released. Used by the
// real-clock façade, where there is no virtual clock waiting on a handler
// to finish and therefore nothing to synchronize.
func newReleasedGuard() TimeHandlerGuard {
	done := make(chan struct{})
	close(done)
	return TimeHandlerGuard{once: &sync.Once{}, done: done}
}

// Release signals that this guard's handler has finished running. Safe to
// call more than once; only the first call has any effect.
func (g TimeHandlerGuard) Release() {
	if g.once == nil {
		return
	}
	g.once.Do(func() {
		close(g.done)
	})
}

func armFinalizer(g *TimeHandlerGuard, logger zerolog.Logger) {
	once := g.once
	done := g.done
	runtime.SetFinalizer(once, func(*sync.Once) {
		select {
		case <-done:
		default:
			logger.Warn().Msg("asynctimemock: TimeHandlerGuard garbage-collected without Release; force-releasing")
			var fallback sync.Once
			fallback.Do(func() { close(done) })
		}
	})
}

// wait blocks until the paired guard is released.
func (f handlerFinished) wait() <-chan struct{} {
	return f.done
}
