package asynctimemock

import "fmt"

// panicCrossRegistry reports a programmer error: an Instant (or an
// operation keyed by one) used against a registry — or the real clock —
// other than the one that minted it. This aborts the call rather than
// silently producing a meaningless answer.
func panicCrossRegistry(gotID, wantID uint64) {
	panic(fmt.Sprintf(
		"asynctimemock: Instant from registry %d used against registry %d; "+
			"Instants are not comparable across registries (or between a mock registry and the real clock)",
		gotID, wantID,
	))
}

// panicNonPositiveSleep reports a programmer error: Sleep was called with a
// zero or negative duration. A zero-duration sleep can never be observed to
// have "elapsed" relative to anything, so it's rejected rather than treated
// as a no-op.
func panicNonPositiveSleep() {
	panic("asynctimemock: Sleep requires a strictly positive duration")
}
