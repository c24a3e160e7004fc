package asynctimemock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClockNowAdvancesWithWallTime(t *testing.T) {
	rc := NewRealClock()
	a := rc.Now()
	time.Sleep(5 * time.Millisecond)
	b := rc.Now()
	assert.True(t, b.After(a))
}

func TestRealClockSleepRejectsZeroAndNegativeDuration(t *testing.T) {
	rc := NewRealClock()
	ctx := bgCtx(t)
	assert.Panics(t, func() { _, _ = rc.Sleep(ctx, 0) })
	assert.Panics(t, func() { _, _ = rc.Sleep(ctx, -time.Second) })
}

func TestRealClockSleepBlocksForApproximatelyTheGivenDuration(t *testing.T) {
	rc := NewRealClock()
	ctx := bgCtx(t)

	start := time.Now()
	guard, err := rc.Sleep(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	guard.Release()
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRealClockSleepRespectsContextCancellation(t *testing.T) {
	rc := NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rc.Sleep(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRealClockSleepUntilInThePastResolvesImmediately(t *testing.T) {
	rc := NewRealClock()
	ctx := bgCtx(t)

	past := rc.Now().Add(-time.Hour)
	start := time.Now()
	guard, err := rc.SleepUntil(ctx, past)
	require.NoError(t, err)
	guard.Release()
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRealClockRejectsInstantFromAMockRegistry(t *testing.T) {
	rc := NewRealClock()
	r := NewRegistry()
	ctx := bgCtx(t)

	mockInstant := r.Now()
	assert.Panics(t, func() { _, _ = rc.SleepUntil(ctx, mockInstant) })
	assert.Panics(t, func() { rc.IntervalAt(mockInstant, time.Second) })
}

func TestMockRegistryRejectsInstantFromTheRealClock(t *testing.T) {
	rc := NewRealClock()
	r := NewRegistry()
	ctx := bgCtx(t)

	realInstant := rc.Now()
	assert.Panics(t, func() { _, _ = r.SleepUntil(ctx, realInstant) })
}

func TestRealClockIntervalTicksAtApproximatelyThePeriod(t *testing.T) {
	rc := NewRealClock()
	ctx := bgCtx(t)
	iv := rc.Interval(10 * time.Millisecond)

	start := time.Now()
	_, _, err := iv.Tick(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Millisecond, "the first tick must fire at the interval's start, not one period later")

	_, _, err = iv.Tick(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRealClockIntervalPollTickIsNonBlockingBeforeThePeriodElapses(t *testing.T) {
	rc := NewRealClock()
	iv := rc.Interval(time.Hour)

	_, _, ok := iv.PollTick()
	assert.False(t, ok, "an interval with a long period must not have a tick ready immediately")
}
