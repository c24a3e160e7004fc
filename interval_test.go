package asynctimemock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property #8: a plain interval's ticks arrive at exact multiples of its
// period from its start.
func TestIntervalSchedulesPeriodicTicks(t *testing.T) {
	r := NewRegistry()
	ctx := bgCtx(t)
	start := r.Now()

	iv := r.Interval(time.Second)

	var ticks []time.Duration
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		for i := 0; i < 10; i++ {
			guard, at, err := iv.Tick(ctx)
			require.NoError(t, err)
			ticks = append(ticks, at.Sub(start))
			guard.Release()
		}
	}()

	require.NoError(t, r.AdvanceTime(ctx, 0))
	require.NoError(t, r.AdvanceTime(ctx, 500*time.Millisecond))
	require.NoError(t, r.AdvanceTime(ctx, 500*time.Millisecond))
	require.NoError(t, r.AdvanceTime(ctx, 2*time.Second))
	require.NoError(t, r.AdvanceTime(ctx, 1337*time.Second))

	select {
	case <-tickDone:
	case <-time.After(2 * time.Second):
		t.Fatal("interval did not deliver all ten ticks")
	}

	require.Len(t, ticks, 10)
	for i, got := range ticks {
		assert.Equal(t, time.Duration(i)*time.Second, got)
	}
}

// IntervalAt must not tick before its given start Instant is reached.
func TestIntervalAtDoesNotTickBeforeStart(t *testing.T) {
	r := NewRegistry()
	ctx := bgCtx(t)

	start := r.Now().Add(42 * time.Second)
	iv := r.IntervalAt(start, time.Second)

	tickDone := make(chan struct{})
	go func() {
		guard, _, err := iv.Tick(ctx)
		require.NoError(t, err)
		guard.Release()
		close(tickDone)
	}()

	require.NoError(t, r.AdvanceTime(ctx, 41*time.Second))
	select {
	case <-tickDone:
		t.Fatal("interval ticked before its start Instant")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, r.AdvanceTime(ctx, time.Second))
	select {
	case <-tickDone:
	case <-time.After(time.Second):
		t.Fatal("interval never ticked once its start Instant was reached")
	}
}

// Property #9 (missed-tick behavior): Burst re-offers every overdue tick
// back-to-back; Delay and Skip do not.
func TestMissedTickBehaviors(t *testing.T) {
	t.Run("burst delivers every elapsed tick", func(t *testing.T) {
		r := NewRegistry()
		ctx := bgCtx(t)
		iv := r.Interval(time.Second)
		iv.SetMissedTickBehavior(Burst)

		advanceErr := make(chan error, 1)
		go func() { advanceErr <- r.AdvanceTime(ctx, 5*time.Second) }()

		got := 0
		deadline := time.After(time.Second)
	drain:
		for got < 6 {
			guard, _, ok := iv.PollTick()
			if ok {
				guard.Release()
				got++
				continue
			}
			select {
			case <-deadline:
				break drain
			case <-time.After(time.Millisecond):
			}
		}
		require.Equal(t, 6, got, "burst must deliver every elapsed tick (0s through 5s) back-to-back")
		require.NoError(t, <-advanceErr)

		_, _, ok := iv.PollTick()
		assert.False(t, ok)
	})

	t.Run("skip drops overdue ticks instead of bursting", func(t *testing.T) {
		r := NewRegistry()
		ctx := bgCtx(t)
		iv := r.Interval(time.Second)
		iv.SetMissedTickBehavior(Skip)

		advanceErr := make(chan error, 1)
		go func() { advanceErr <- r.AdvanceTime(ctx, 5*time.Second) }()

		var guard TimeHandlerGuard
		var ok bool
		deadline := time.After(time.Second)
	waitFirst:
		for {
			guard, _, ok = iv.PollTick()
			if ok {
				break waitFirst
			}
			select {
			case <-deadline:
				break waitFirst
			case <-time.After(time.Millisecond):
			}
		}
		require.True(t, ok, "skip must still deliver the one tick that is due")
		guard.Release()
		require.NoError(t, <-advanceErr)

		_, _, ok = iv.PollTick()
		assert.False(t, ok, "skip must not offer a second tick for the time already elapsed")
	})
}

// S6: a timeout driven by an interval never fires more than the interval's
// own tick count permits across a longer deadline.
func TestTimeoutDrivenByIntervalFiresExactlyTenTimes(t *testing.T) {
	r := NewRegistry()
	ctx := bgCtx(t)
	iv := r.Interval(time.Second)

	var operationCount int
	opDone := make(chan struct{})
	go func() {
		defer close(opDone)
		for operationCount < 10 {
			guard, _, err := iv.Tick(ctx)
			require.NoError(t, err)
			guard.Release()
			_, err = Timeout(ctx, r, 500*time.Millisecond, func(ctx context.Context) (struct{}, error) {
				<-ctx.Done()
				return struct{}{}, ctx.Err()
			})
			var elapsed *Elapsed
			require.ErrorAs(t, err, &elapsed)
			elapsed.Unwrap().Release()
			operationCount++
		}
	}()

	advances := []time.Duration{0, 500 * time.Millisecond, time.Second, 8 * time.Second, time.Second}
	for _, d := range advances {
		require.NoError(t, r.AdvanceTime(ctx, d))
	}

	select {
	case <-opDone:
	case <-time.After(2 * time.Second):
		t.Fatal("interval+timeout loop never completed ten iterations")
	}
	assert.Equal(t, 10, operationCount)
}

// S7: an interval and a timeout of the same length must not deadlock when
// advanced by exactly their combined period in one call.
func TestIntervalAndTimeoutOfSameLengthDoNotDeadlock(t *testing.T) {
	r := NewRegistry()
	ctx := bgCtx(t)
	iv := r.Interval(time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		guard, _, err := iv.Tick(ctx)
		require.NoError(t, err)
		guard.Release()

		_, err = Timeout(ctx, r, time.Second, func(ctx context.Context) (struct{}, error) {
			<-ctx.Done()
			return struct{}{}, ctx.Err()
		})
		var elapsed *Elapsed
		require.ErrorAs(t, err, &elapsed)
		elapsed.Unwrap().Release()
	}()

	require.NoError(t, r.AdvanceTime(ctx, 2*time.Second))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deadlocked advancing an interval tick and an equal-length timeout together")
	}
}
