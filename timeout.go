package asynctimemock

import (
	"context"
	"fmt"
	"time"
)

// Elapsed is returned by Timeout/TimeoutAt when the deadline passes before
// the wrapped operation completes. It embeds the TimeHandlerGuard for the
// sleep that elapsed, so callers (and AdvanceTime) know the timeout's own
// side effects are complete once Elapsed.Unwrap().Release() is called.
// Dropping the Elapsed value without calling Release does not unblock
// AdvanceTime: the registry keeps the fired timer, and with it the guard,
// reachable while it waits, so the guard's finalizer cannot run.
type Elapsed struct {
	Guard TimeHandlerGuard
}

func (e *Elapsed) Error() string { return "asynctimemock: timeout elapsed" }

// Unwrap returns the embedded guard.
func (e *Elapsed) Unwrap() TimeHandlerGuard { return e.Guard }

// Operation is the shape of work a Timeout races against a deadline.
type Operation[T any] func(ctx context.Context) (T, error)

// Timeout races op against a deadline d after the clock's current time. If
// both the deadline and op are ready (for example, the same AdvanceTime
// call firing the sleep while op also resolves), the deadline wins whenever
// the sleep's guard has reached Timeout by the time op's result is taken:
// the sleep is checked, non-blocking, before op's result is returned. A
// sleep whose guard arrives after that loses to op, and its guard is then
// released on the caller's behalf.
func Timeout[T any](ctx context.Context, clock Clock, d time.Duration, op Operation[T]) (T, error) {
	return race(ctx, op, func(ctx context.Context) (TimeHandlerGuard, error) {
		return clock.Sleep(ctx, d)
	})
}

// TimeoutAt is like Timeout, but races op against a fixed Instant deadline
// instead of a duration from now.
func TimeoutAt[T any](ctx context.Context, clock Clock, at Instant, op Operation[T]) (T, error) {
	return race(ctx, op, func(ctx context.Context) (TimeHandlerGuard, error) {
		return clock.SleepUntil(ctx, at)
	})
}

type timeoutOpResult[T any] struct {
	value T
	err   error
}

func race[T any](ctx context.Context, op Operation[T], sleep func(context.Context) (TimeHandlerGuard, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opResult := make(chan timeoutOpResult[T], 1)
	go func() {
		v, err := op(opCtx)
		opResult <- timeoutOpResult[T]{value: v, err: err}
	}()

	sleepGuard := make(chan TimeHandlerGuard, 1)
	sleepErr := make(chan error, 1)
	go func() {
		g, err := sleep(opCtx)
		if err != nil {
			sleepErr <- err
			return
		}
		sleepGuard <- g
	}()

	// Priority pre-check: if the sleep already fired, it wins even if op
	// also happens to be ready right now. The same check is repeated before
	// op's result is returned, so the sleep wins whenever its guard has
	// been delivered by then. A guard delivered after op's result has been
	// taken is released by a goroutine that waits for the sleep to finish.
	select {
	case g := <-sleepGuard:
		return zero, &Elapsed{Guard: g}
	default:
	}

	select {
	case g := <-sleepGuard:
		return zero, &Elapsed{Guard: g}
	case res := <-opResult:
		select {
		case g := <-sleepGuard:
			return zero, &Elapsed{Guard: g}
		default:
		}
		go func() {
			select {
			case g := <-sleepGuard:
				g.Release()
			case <-sleepErr:
			}
		}()
		return res.value, res.err
	case err := <-sleepErr:
		return zero, fmt.Errorf("asynctimemock: timeout sleep failed: %w", err)
	}
}
