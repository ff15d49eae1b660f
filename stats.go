package apfalloc

import "sync/atomic"

// Observable flags recording whether each public entry point has been
// exercised at least once (spec §6: "used only to verify interposition in
// tests"). Not reset; intended for a single test process's lifetime.
var (
	mallocCalled       atomic.Bool
	callocCalled       atomic.Bool
	reallocCalled      atomic.Bool
	freeCalled         atomic.Bool
	alignedAllocCalled atomic.Bool
)

// Stats is a snapshot of the interposition flags.
type Stats struct {
	MallocCalled       bool
	CallocCalled       bool
	ReallocCalled      bool
	FreeCalled         bool
	AlignedAllocCalled bool
}

// CurrentStats returns the current state of the interposition flags.
func CurrentStats() Stats {
	return Stats{
		MallocCalled:       mallocCalled.Load(),
		CallocCalled:       callocCalled.Load(),
		ReallocCalled:      reallocCalled.Load(),
		FreeCalled:         freeCalled.Load(),
		AlignedAllocCalled: alignedAllocCalled.Load(),
	}
}
