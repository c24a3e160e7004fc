package asynctimemock

import (
	"fmt"
	"time"
)

// Instant is a point in a registry's virtual timeline: an offset from that
// registry's epoch, tagged with the registry's identity. Instants minted by
// different registries (or by the real clock) are not comparable; any
// binary operation across registries panics rather than silently producing
// a meaningless answer.
//
// The zero value of Instant is not useful on its own; obtain one from
// Registry.Now, realClock.Now, or by adding a Duration to an existing
// Instant from the same registry.
type Instant struct {
	offset     time.Duration
	registryID uint64
}

// realClockRegistryID is reserved for Instants minted by the real-clock
// façade. Mock registries are allocated IDs starting at 1 (see
// nextRegistryID in registry.go), so this value can never collide with one.
const realClockRegistryID uint64 = 0

func newInstant(offset time.Duration, registryID uint64) Instant {
	return Instant{offset: offset, registryID: registryID}
}

// RegistryID reports which registry (or the real clock, via the reserved
// ID 0) minted this Instant. Mostly useful for diagnostics.
func (i Instant) RegistryID() uint64 {
	return i.registryID
}

func (i Instant) mustMatch(other Instant) {
	if i.registryID != other.registryID {
		panicCrossRegistry(other.registryID, i.registryID)
	}
}

// Add returns the Instant d later than i. d may be negative.
func (i Instant) Add(d time.Duration) Instant {
	return Instant{offset: i.offset + d, registryID: i.registryID}
}

// CheckedAdd is like Add, but reports false instead of overflowing silently.
func (i Instant) CheckedAdd(d time.Duration) (Instant, bool) {
	sum := i.offset + d
	// time.Duration is a signed 64-bit nanosecond count; detect overflow by
	// sign-comparison rather than widening to a bigger int type.
	if d > 0 && sum < i.offset {
		return Instant{}, false
	}
	if d < 0 && sum > i.offset {
		return Instant{}, false
	}
	return Instant{offset: sum, registryID: i.registryID}, true
}

// Sub returns the Duration between i and other (i - other). Panics if the
// two Instants belong to different registries.
func (i Instant) Sub(other Instant) time.Duration {
	i.mustMatch(other)
	return i.offset - other.offset
}

// SaturatingSub is like Sub, but clamps to zero instead of returning a
// negative Duration when other is after i.
func (i Instant) SaturatingSub(other Instant) time.Duration {
	d := i.Sub(other)
	if d < 0 {
		return 0
	}
	return d
}

// Before reports whether i occurs before other. Panics across registries.
func (i Instant) Before(other Instant) bool {
	i.mustMatch(other)
	return i.offset < other.offset
}

// After reports whether i occurs after other. Panics across registries.
func (i Instant) After(other Instant) bool {
	i.mustMatch(other)
	return i.offset > other.offset
}

// Equal reports whether i and other represent the same point in time.
// Panics across registries.
func (i Instant) Equal(other Instant) bool {
	i.mustMatch(other)
	return i.offset == other.offset
}

// String renders the Instant's offset and owning registry, for test
// failure messages and debug logging.
func (i Instant) String() string {
	return fmt.Sprintf("Instant(%s from registry %d)", i.offset, i.registryID)
}
