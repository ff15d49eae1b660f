package apf

import "github.com/cacheline/apfalloc/internal/container"

// livenessCounter approximates the average number of live objects over a
// window of k recent allocations (spec §4.6). All four running arrays are
// backed by container.Array (segment memory), never the Go heap.
type livenessCounter struct {
	n int // current time
	m int // total allocations so far

	allocSum, allocCounts *container.Array[int]
	freeSum, freeCounts   *container.Array[int]

	maxN    int
	starved bool
}

func newLivenessCounter(maxN int) *livenessCounter {
	lc := &livenessCounter{
		allocSum:    container.NewArray[int](maxN),
		allocCounts: container.NewArray[int](maxN),
		freeSum:     container.NewArray[int](maxN),
		freeCounts:  container.NewArray[int](maxN),
		maxN:        maxN,
	}
	for i := 0; i < maxN; i++ {
		lc.allocSum.Push(0)
		lc.allocCounts.Push(0)
		lc.freeSum.Push(0)
		lc.freeCounts.Push(0)
	}
	return lc
}

// incTimer advances the counter's clock by one. Once n reaches maxN the
// counter goes permanently inert (spec §7, "tuner starvation"): the caller
// must stop trusting liveness()/demand() for this bin from then on.
func (lc *livenessCounter) incTimer() {
	if lc.starved {
		return
	}
	lc.n++
	if lc.n >= lc.maxN {
		lc.starved = true
		return
	}
	lc.allocCounts.Set(lc.n, lc.allocCounts.Get(lc.n-1))
	lc.allocSum.Set(lc.n, lc.allocSum.Get(lc.n-1))
	lc.freeCounts.Set(lc.n, lc.freeCounts.Get(lc.n-1))
	lc.freeSum.Set(lc.n, lc.freeSum.Get(lc.n-1))
}

func (lc *livenessCounter) alloc() {
	if lc.starved {
		return
	}
	lc.allocSum.Set(lc.n, lc.allocSum.Get(lc.n)+lc.n)
	lc.allocCounts.Set(lc.n, lc.allocCounts.Get(lc.n)+1)
	lc.m++
}

func (lc *livenessCounter) free() {
	if lc.starved {
		return
	}
	lc.freeSum.Set(lc.n, lc.freeSum.Get(lc.n)+lc.n)
	lc.freeCounts.Set(lc.n, lc.freeCounts.Get(lc.n)+1)
}

// liveness evaluates the window-k liveness estimate (spec §4.6's formula).
func (lc *livenessCounter) liveness(k int) float64 {
	if lc.starved {
		return 0
	}
	if k == 0 {
		return lc.liveness(1) - 1.0
	}
	i := lc.n - k + 1
	if i <= 0 || i >= lc.maxN || k >= lc.maxN {
		return 0
	}
	m := lc.m
	tmp1 := (m-lc.freeCounts.Get(i))*i + lc.freeSum.Get(i)
	tmp2 := lc.allocCounts.Get(k)*k + lc.allocSum.Get(lc.n) - lc.allocSum.Get(k)
	return float64(tmp1-tmp2+m*k) / float64(i)
}
