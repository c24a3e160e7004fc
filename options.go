package asynctimemock

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Registry constructed by NewRegistry.
type Option func(*registryOptions)

type registryOptions struct {
	startTime           time.Duration
	logger              zerolog.Logger
	btreeDegree         int
	abandonedTimerGrace time.Duration
}

func defaultRegistryOptions() registryOptions {
	return registryOptions{
		startTime:           0,
		logger:              zerolog.Nop(),
		btreeDegree:         32,
		abandonedTimerGrace: 200 * time.Millisecond,
	}
}

func resolveOptions(opts []Option) registryOptions {
	cfg := defaultRegistryOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithStartTime sets the registry's initial virtual time. Defaults to zero.
func WithStartTime(d time.Duration) Option {
	return func(o *registryOptions) { o.startTime = d }
}

// WithLogger attaches a zerolog.Logger the registry uses for debug-level
// tracing of scheduling and AdvanceTime decisions. Defaults to a no-op
// logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *registryOptions) { o.logger = logger }
}

// WithBTreeDegree overrides the branching factor of the internal ordered
// timer multimap. Rarely needed; the default (32) is appropriate for the
// timer counts typical of a test suite.
func WithBTreeDegree(degree int) Option {
	return func(o *registryOptions) {
		if degree >= 2 {
			o.btreeDegree = degree
		}
	}
}

// WithAbandonedTimerGrace overrides how long AdvanceTime waits for an
// Interval's automatic re-arm to be claimed and released before concluding
// without it: a re-arm nobody has claimed by then has its guard released on
// its behalf, and one already claimed is left to its holder.
// Defaults to 200ms. Never applies to a plain Sleep/SleepUntil timer,
// which AdvanceTime always waits for indefinitely (bounded only by ctx).
func WithAbandonedTimerGrace(d time.Duration) Option {
	return func(o *registryOptions) {
		if d > 0 {
			o.abandonedTimerGrace = d
		}
	}
}

// RealOption configures the real Clock arm returned by NewRealClock.
type RealOption func(*realOptions)

type realOptions struct {
	loc   *time.Location
	epoch time.Time
}

func defaultRealOptions() realOptions {
	return realOptions{epoch: time.Unix(0, 0)}
}

func resolveRealOptions(opts []RealOption) realOptions {
	cfg := defaultRealOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithLocation sets the location the real clock reads wall time in. Now()
// returns an offset from the epoch, so its value does not depend on the
// location.
func WithLocation(loc *time.Location) RealOption {
	return func(o *realOptions) { o.loc = loc }
}

// WithEpoch sets the reference point the real clock's Instant offsets are
// measured from. Defaults to the Unix epoch, which keeps offsets stable and
// comparable across process restarts.
func WithEpoch(epoch time.Time) RealOption {
	return func(o *realOptions) { o.epoch = epoch }
}
