// Package apf implements the online workload tuner described in spec §4.6:
// one Tuner per thread cache bin, deciding when to fill from the heap and
// when to flush surplus back. It never calls into the bin it tunes for its
// own bookkeeping (spec §9, "tuner re-entrance") — all of its state lives
// in internal/container collections backed by the segment layer.
package apf

import (
	"math"
	"sync/atomic"
)

var nextInstanceID atomic.Int64

// Check reports how many free blocks bin id currently holds.
type Check func(id int) uint32

// Get asks the heap to fill bin id with n additional blocks; returns
// whether the fill succeeded.
type Get func(id int, n int) bool

// Return asks the heap to take n blocks back from bin id.
type Return func(id int, n uint32) bool

// Tuner is one size class's APF state, for one thread cache bin.
type Tuner struct {
	id int

	// InstanceID uniquely identifies this Tuner process-wide, independent
	// of id (which is caller-defined and may repeat across distinct
	// Tuners, e.g. the same size class index in two different caches).
	// Collector keys its registry by this field.
	InstanceID int64

	liveness *livenessCounter
	reuse    *reuseCounter

	targetAPF  int
	time       int
	fetchCount int

	check Check
	get   Get
	ret   Return
}

// New constructs a Tuner for bin id. targetAPF and maxLivenessWindow come
// from config (spec §6's TARGET_APF, and this port's
// APFALLOC_MAX_LIVENESS_WINDOW extension).
func New(id int, targetAPF, maxLivenessWindow int, check Check, get Get, ret Return) *Tuner {
	return &Tuner{
		id:         id,
		InstanceID: nextInstanceID.Add(1),
		liveness:  newLivenessCounter(maxLivenessWindow),
		reuse:     newReuseCounter(ReuseBurstLength, ReuseHibernationPeriod),
		targetAPF: targetAPF,
		check:     check,
		get:       get,
		ret:       ret,
	}
}

// Malloc notifies the tuner that an allocation just happened at ptr, and
// opportunistically prefetches ahead of demand if the bin has gone empty
// (spec §4.6 policy). Returns whether a demand-driven prefetch happened;
// when false the caller's own unconditional "fill on empty" path is what
// keeps the bin non-empty (the spec's fallback policy).
func (t *Tuner) Malloc(ptr uintptr) bool {
	t.time++

	t.liveness.incTimer()
	t.liveness.alloc()

	t.reuse.alloc(ptr)
	t.reuse.incTimer()

	if t.check(t.id) != 0 {
		return false
	}

	d, ok := t.demand(t.dapf())
	if !ok {
		return false
	}
	t.get(t.id, int(math.Ceil(d)))
	t.fetchCount++
	return true
}

// Free notifies the tuner that a free just happened at ptr, and returns
// ceil(demand)+1 blocks to the heap if the bin holds at least 2*demand+1.
// Returns whether the tuner had a usable demand estimate this call, whether
// or not it flushed; it returns false while demand is unavailable or
// negative, and the caller must then apply the fallback policy itself.
func (t *Tuner) Free(ptr uintptr) bool {
	t.reuse.free(ptr)
	if !UseAllocationClock {
		t.time++
		t.liveness.incTimer()
	}

	t.liveness.free()

	if !UseAllocationClock {
		t.reuse.incTimer()
	}

	d, ok := t.demand(t.dapf())
	if !ok {
		return false
	}

	if float64(t.check(t.id)) >= 2*d+1 {
		if d < 0 {
			return false
		}
		t.ret(t.id, uint32(math.Ceil(d))+1)
		return true
	}
	return true
}

// FetchCount reports how many times this tuner has triggered a fill; used
// for the APF steady-state property (spec §8 scenario 6) and exported as a
// metric.
func (t *Tuner) FetchCount() int { return t.fetchCount }

func (t *Tuner) dapf() int {
	if t.time >= t.targetAPF*(t.fetchCount+1) {
		return t.targetAPF
	}
	return t.targetAPF*(t.fetchCount+1) - t.time
}

// demand is liveness(k) - liveness(0) - reuse(k); unavailable until the
// reuse counter has completed at least one burst.
func (t *Tuner) demand(k int) (float64, bool) {
	if k > t.time {
		return 0, false
	}
	r, ok := t.reuse.reuseAt(k)
	if !ok {
		return 0, false
	}
	return t.liveness.liveness(k) - t.liveness.liveness(0) - r, true
}
