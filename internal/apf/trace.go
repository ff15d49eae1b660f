package apf

import (
	"github.com/cacheline/apfalloc/internal/container"
)

// eventKind distinguishes an alloc event from a free event in a trace
// (spec §4.6's reuse-counter burst trace).
type eventKind uint8

const (
	eventAlloc eventKind = iota
	eventFree
)

type event struct {
	kind eventKind
	slot uintptr
}

// trace records one burst's worth of alloc/free events, backed by a
// segment-allocated array so recording never recurses into the tuned
// allocator (spec §9).
type trace struct {
	events     *container.Array[event]
	allocCount int
}

func newTrace(capacityHint int) *trace {
	return &trace{events: container.NewArray[event](capacityHint)}
}

func (t *trace) recordAlloc(slot uintptr) {
	t.events.Push(event{kind: eventAlloc, slot: slot})
	t.allocCount++
}

func (t *trace) recordFree(slot uintptr) {
	t.events.Push(event{kind: eventFree, slot: slot})
}

// freeInterval is one (alloc-index, free-index) pair under the allocation
// clock: the index counts only alloc events, matching the original's
// free_intervals (uses USE_ALLOCATION_CLOCK semantics).
type freeInterval struct {
	start, end int
}

// freeIntervals walks the trace once, pairing each alloc with the most
// recent prior free of the same slot, and returns every matched interval.
// A free with no matching later alloc (the slot is still live at burst
// end) contributes nothing — consistent with trace.rs's free_intervals.
func (t *trace) freeIntervals() []freeInterval {
	frees := container.NewIntMap()
	var result []freeInterval
	allocClock := 0

	for _, e := range t.events.Slice() {
		switch e.kind {
		case eventFree:
			frees.Set(e.slot, allocClock)
		case eventAlloc:
			if s, ok := frees.Get(e.slot); ok {
				result = append(result, freeInterval{start: s, end: allocClock})
			}
			allocClock++
		}
	}
	return result
}
