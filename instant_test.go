package asynctimemock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantArithmetic(t *testing.T) {
	r := NewRegistry(WithStartTime(10 * time.Second))
	base := r.Now()

	later := base.Add(5 * time.Second)
	assert.True(t, later.After(base))
	assert.Equal(t, 5*time.Second, later.Sub(base))
	assert.Equal(t, 5*time.Second, later.SaturatingSub(base))

	earlier := base.Add(-20 * time.Second)
	assert.Equal(t, time.Duration(0), earlier.SaturatingSub(base), "SaturatingSub clamps negative durations to zero")
}

func TestInstantCheckedAdd(t *testing.T) {
	r := NewRegistry()
	base := r.Now()

	sum, ok := base.CheckedAdd(time.Second)
	require.True(t, ok)
	assert.Equal(t, time.Second, sum.Sub(base))

	_, ok = sum.CheckedAdd(time.Duration(1<<63 - 1))
	assert.False(t, ok, "CheckedAdd must report overflow instead of wrapping")
}

func TestInstantCrossRegistryPanics(t *testing.T) {
	r1 := NewRegistry()
	r2 := NewRegistry()

	a := r1.Now()
	b := r2.Now()

	assert.Panics(t, func() { _ = a.Sub(b) })
	assert.Panics(t, func() { _ = a.Before(b) })
	assert.Panics(t, func() { _ = a.After(b) })
	assert.Panics(t, func() { _ = a.Equal(b) })
}

func TestInstantRegistryIdentityNeverCollidesWithRealClock(t *testing.T) {
	r := NewRegistry()
	assert.NotEqual(t, realClockRegistryID, r.Now().RegistryID())
}
