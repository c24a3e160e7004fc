package asynctimemock

import (
	"container/list"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/communityvi/async-time-mock/internal/mtx"
)

// registryIDCounter allocates Registry identities starting at 1, so that
// realClockRegistryID (0) can never collide with a real mock registry.
var registryIDCounter atomic.Uint64

func nextRegistryID() uint64 {
	return registryIDCounter.Add(1)
}

// timerBucket holds every pendingTimer due at exactly the same virtual
// time, in FIFO scheduling order.
type timerBucket struct {
	at    time.Duration
	queue *list.List // of *pendingTimer
}

func timerBucketLess(a, b *timerBucket) bool {
	return a.at < b.at
}

// registryState is everything Registry protects behind a single lock.
type registryState struct {
	currentTime time.Duration
	timers      *btree.BTreeG[*timerBucket]
	// scheduledCh is closed (and replaced) every time a timer is scheduled.
	// AdvanceTime captures the current value under the same lock as its
	// emptiness check, so it can never miss a schedule that happens between
	// the check and the wait: the generation it captured is the one that
	// will be closed.
	scheduledCh chan struct{}

	// advancing/advanceHorizon record the target of an in-flight
	// AdvanceTime call. currentTime itself advances bucket-by-bucket as
	// each due timer fires (so a handler's own Now() call sees its own
	// wake time, not a later one); advanceHorizon is the separate signal
	// Interval's missed-tick detection needs — "how far this call intends
	// to move the clock" — since currentTime alone can never look late
	// relative to the bucket currently firing.
	advancing      bool
	advanceHorizon time.Duration
}

// Registry is a virtual clock plus an ordered multimap of pending timers.
// It is the mock arm of Clock: time only passes when AdvanceTime is called,
// and every non-optional timer (Sleep, SleepUntil, an Interval's first tick
// or the tick Reset installs) fired by an AdvanceTime call is fully handled
// (its guard released) before AdvanceTime returns. An Interval's automatic
// re-arm is waited on only for a bounded grace period; see AdvanceTime.
//
// The zero value is not usable; construct with NewRegistry.
type Registry struct {
	id                  uint64
	inner               mtx.RWMtx[registryState]
	advanceSem          *semaphore.Weighted
	logger              zerolog.Logger
	abandonedTimerGrace time.Duration
}

// NewRegistry constructs a Registry. By default it starts at virtual time
// zero and logs nothing; see WithStartTime and WithLogger.
func NewRegistry(opts ...Option) *Registry {
	cfg := resolveOptions(opts)
	return &Registry{
		id: nextRegistryID(),
		inner: mtx.NewRWMtx(registryState{
			currentTime: cfg.startTime,
			timers:      btree.NewG(cfg.btreeDegree, timerBucketLess),
			scheduledCh: make(chan struct{}),
		}),
		advanceSem:          semaphore.NewWeighted(1),
		logger:              cfg.logger,
		abandonedTimerGrace: cfg.abandonedTimerGrace,
	}
}

// ID returns this registry's unique identity, used to detect Instants
// crossing between registries.
func (r *Registry) ID() uint64 { return r.id }

func (r *Registry) String() string {
	return fmt.Sprintf("Registry(id=%d, now=%s)", r.id, r.Now())
}

// Now returns the registry's current virtual time as an Instant.
func (r *Registry) Now() Instant {
	var offset time.Duration
	r.inner.RWith(func(s registryState) { offset = s.currentTime })
	return newInstant(offset, r.id)
}

// horizon reports the time a missed-tick check should treat as "now": the
// target of an AdvanceTime call currently in flight, or plain currentTime
// if none is. See registryState.advanceHorizon's doc comment.
func (r *Registry) horizon() time.Duration {
	var h time.Duration
	r.inner.RWith(func(s registryState) {
		if s.advancing {
			h = s.advanceHorizon
		} else {
			h = s.currentTime
		}
	})
	return h
}

// Sleep schedules a wake-up `d` after the registry's current virtual time
// and blocks until AdvanceTime fires it (or ctx is done). d must be
// strictly positive; a zero or negative duration is a programmer error and
// panics.
func (r *Registry) Sleep(ctx context.Context, d time.Duration) (TimeHandlerGuard, error) {
	if d <= 0 {
		panicNonPositiveSleep()
	}
	var wake time.Duration
	r.inner.RWith(func(s registryState) { wake = s.currentTime + d })
	return r.scheduleAndWait(ctx, wake)
}

// SleepUntil schedules a wake-up at the given Instant and blocks until
// AdvanceTime fires it (or ctx is done). at may be in the registry's past;
// it then fires on the very next AdvanceTime call (even AdvanceTime(0))
// without moving the clock backward. Panics if at belongs to a different
// registry.
func (r *Registry) SleepUntil(ctx context.Context, at Instant) (TimeHandlerGuard, error) {
	r.checkOwn(at)
	return r.scheduleAndWait(ctx, at.offset)
}

func (r *Registry) checkOwn(at Instant) {
	if at.registryID != r.id {
		panicCrossRegistry(at.registryID, r.id)
	}
}

// scheduleAndWait schedules a non-optional timer and waits for it. If ctx
// ends first, the listener is abandoned, so when the timer later fires its
// guard is already released and AdvanceTime does not wait on it.
func (r *Registry) scheduleAndWait(ctx context.Context, at time.Duration) (TimeHandlerGuard, error) {
	listener := r.schedule(at, false)
	guard, err := listener.wait(ctx)
	if err != nil {
		listener.abandon()
	}
	return guard, err
}

// schedule inserts a new pendingTimer at the given wake time and returns
// its listener. Every call unconditionally signals scheduledCh, so a
// concurrent AdvanceTime blocked on an empty registry always wakes up to
// recheck, regardless of which wake time this timer lands on.
//
// optional marks the timer as one AdvanceTime should only wait on for a
// bounded grace period rather than indefinitely; see pendingTimer.
func (r *Registry) schedule(at time.Duration, optional bool) *timerListener {
	pt, listener := newPendingTimer(r.logger, optional)
	r.inner.With(func(s *registryState) {
		probe := &timerBucket{at: at}
		bucket, ok := s.timers.Get(probe)
		if !ok {
			bucket = &timerBucket{at: at, queue: list.New()}
			s.timers.ReplaceOrInsert(bucket)
		}
		bucket.queue.PushBack(pt)

		close(s.scheduledCh)
		s.scheduledCh = make(chan struct{})
	})
	r.logger.Debug().Dur("wake", at).Msg("asynctimemock: timer scheduled")
	return listener
}

// AdvanceTime moves the registry's virtual clock forward by delta,
// synchronously firing and fully handling (guard released) every timer due
// at or before the new time, in ascending wake-time order and FIFO order
// within each wake time. Only one AdvanceTime call runs at a time per
// registry; concurrent callers queue on that serialization point (which is
// ctx-cancelable, unlike a bare sync.Mutex).
//
// If the registry currently has no pending timers at all, AdvanceTime
// blocks until one is scheduled by another goroutine before doing anything
// else: advancing an empty registry's clock while nothing could possibly
// be waiting on it is never useful, and this call must not resolve until
// that first timer exists.
//
// Every non-optional timer (a plain Sleep/SleepUntil, or an Interval's
// first tick) is awaited indefinitely before moving on, preserving strict
// ascending/FIFO ordering. An optional timer (an Interval's automatic
// re-arm) is fired inline but never blocks the rest of the due timers on
// being claimed; if abandonedTimerGrace passes with nothing left to do and
// it still hasn't been claimed, AdvanceTime releases its guard on its
// behalf and concludes rather than waiting on a tick nobody will ever take.
// If it has been claimed but its guard is not yet released when the grace
// period passes, AdvanceTime concludes without waiting for that release.
func (r *Registry) AdvanceTime(ctx context.Context, delta time.Duration) error {
	if err := r.advanceSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.advanceSem.Release(1)

	var target time.Duration
	r.inner.RWith(func(s registryState) { target = saturatingAddDuration(s.currentTime, delta) })
	r.inner.With(func(s *registryState) {
		s.advancing = true
		s.advanceHorizon = target
	})
	defer r.inner.With(func(s *registryState) { s.advancing = false })

	var empty bool
	var waitCh chan struct{}
	r.inner.RWith(func(s registryState) {
		empty = s.timers.Len() == 0
		waitCh = s.scheduledCh
	})
	if empty {
		r.logger.Debug().Msg("asynctimemock: advance time waiting for first timer to be scheduled")
		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// stop tells every in-flight watchOptional goroutine spawned below to
	// give up trying to report in once this call is done with them,
	// whether or not their timer ever actually resolves.
	stop := make(chan struct{})
	defer close(stop)

	resolved := make(chan *pendingTimer)
	outstanding := make(map[*pendingTimer]struct{})
	watchOptional := func(pt *pendingTimer, finished <-chan struct{}) {
		outstanding[pt] = struct{}{}
		go func() {
			select {
			case <-finished:
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
			select {
			case resolved <- pt:
			case <-stop:
			}
		}()
	}

	// fireDue drains every bucket currently due at or before target,
	// firing each timer in strict ascending/FIFO order. Non-optional
	// timers are waited on inline, exactly as before; optional ones are
	// handed to watchOptional and never block this loop.
	fireDue := func() error {
		for {
			bucket, ok := r.popDueBucket(target)
			if !ok {
				return nil
			}
			for e := bucket.queue.Front(); e != nil; e = e.Next() {
				pt := e.Value.(*pendingTimer)
				finished := pt.fire()
				if pt.optional {
					watchOptional(pt, finished)
					continue
				}
				select {
				case <-finished:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	if err := fireDue(); err != nil {
		return err
	}

	var grace *time.Timer
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()
	for len(outstanding) > 0 {
		if grace == nil {
			grace = time.NewTimer(r.abandonedTimerGrace)
		}

		var scheduledCh chan struct{}
		r.inner.RWith(func(s registryState) { scheduledCh = s.scheduledCh })

		select {
		case pt := <-resolved:
			delete(outstanding, pt)
			// The handler may have scheduled a due timer before releasing
			// its guard; drain it before deciding whether anything is left.
			if err := fireDue(); err != nil {
				return err
			}
		case <-scheduledCh:
			// Something changed (an optional timer got claimed and armed
			// its successor, or anything else was scheduled); a new
			// bucket may now be due within target, so go drain it before
			// re-checking what's still outstanding. Reset the grace
			// clock, since real progress just happened.
			if grace != nil {
				grace.Stop()
				grace = nil
			}
			if err := fireDue(); err != nil {
				return err
			}
		case <-grace.C:
			grace = nil
			for pt := range outstanding {
				pt.abandon()
				delete(outstanding, pt)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.inner.With(func(s *registryState) { s.currentTime = target })
	r.logger.Debug().Dur("now", target).Msg("asynctimemock: advance time complete")
	return nil
}

// popDueBucket removes and returns the earliest bucket at or before target,
// advancing currentTime to that bucket's wake time (never regressing it).
// It reports false once no bucket is due.
func (r *Registry) popDueBucket(target time.Duration) (*timerBucket, bool) {
	var bucket *timerBucket
	var found bool
	r.inner.With(func(s *registryState) {
		min, ok := s.timers.Min()
		if !ok || min.at > target {
			return
		}
		bucket = min
		found = true
		s.timers.Delete(min)
		if s.currentTime < min.at {
			s.currentTime = min.at
		}
	})
	return bucket, found
}

func saturatingAddDuration(a, b time.Duration) time.Duration {
	sum := a + b
	if b > 0 && sum < a {
		return time.Duration(1<<63 - 1)
	}
	if b < 0 && sum > a {
		return time.Duration(-(1 << 63))
	}
	return sum
}
