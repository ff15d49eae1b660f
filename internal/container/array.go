// Package container provides collections backed directly by the OS segment
// layer instead of the Go heap. The APF tuner (internal/apf) uses these for
// its own bookkeeping — liveness/reuse buffers, trace storage — so that
// tuner bookkeeping can never recursively call back into the allocator it
// is tuning (spec §4.6, §9: "any container used by the tuner bypasses the
// allocator entirely by going to the segment layer").
package container

import (
	"unsafe"

	"github.com/cacheline/apfalloc/internal/segment"
)

// Array is a growable, segment-backed slice of T. The zero value is an
// empty array ready to use.
//
// T must not contain Go pointers: the backing memory comes from raw mmap,
// which the garbage collector does not scan, so a GC pointer stored here
// could be collected while still referenced.
type Array[T any] struct {
	seg  segment.Segment
	size int
}

func elemSize[T any]() uintptr {
	var z T
	return unsafe.Sizeof(z)
}

// NewArray returns an array with room for at least capacity elements,
// zero-filled (the backing segment comes straight from mmap/VirtualAlloc,
// which is always zeroed).
func NewArray[T any](capacity int) *Array[T] {
	a := &Array[T]{}
	if capacity > 0 {
		a.reserve(capacity)
	}
	return a
}

func (a *Array[T]) capacity() int {
	if a.seg.Len == 0 {
		return 0
	}
	return int(a.seg.Len / elemSize[T]())
}

func (a *Array[T]) reserve(capacity int) {
	if capacity <= a.capacity() {
		return
	}
	newSize := uintptr(capacity) * elemSize[T]()
	seg, err := segment.Allocate(newSize)
	if err != nil {
		panic("container: array grow failed: " + err.Error())
	}
	if a.seg.Len != 0 {
		copy(unsafe.Slice((*T)(unsafe.Pointer(seg.Addr)), a.size),
			unsafe.Slice((*T)(unsafe.Pointer(a.seg.Addr)), a.size))
		segment.Deallocate(a.seg)
	}
	a.seg = seg
}

func (a *Array[T]) slice() []T {
	if a.seg.Len == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(a.seg.Addr)), a.capacity())
}

// Len is the number of elements pushed.
func (a *Array[T]) Len() int { return a.size }

// Get returns the element at index i.
func (a *Array[T]) Get(i int) T { return a.slice()[i] }

// Set overwrites the element at index i, which must be < Len().
func (a *Array[T]) Set(i int, v T) { a.slice()[i] = v }

// Push appends v, growing the backing segment (by doubling) if needed.
func (a *Array[T]) Push(v T) {
	if a.size >= a.capacity() {
		next := a.capacity() * 2
		if next == 0 {
			next = 16
		}
		a.reserve(next)
	}
	a.slice()[a.size] = v
	a.size++
}

// Slice returns the live portion of the backing array. The returned slice
// aliases segment memory and is invalidated by the next Push that grows
// the array.
func (a *Array[T]) Slice() []T { return a.slice()[:a.size] }
