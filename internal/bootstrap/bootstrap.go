// Package bootstrap implements the pre-init bump arena described in spec
// §4.8: allocations needed before the real allocator is ready (package
// constructors, thread-local setup) are served from a small, growable,
// never-reclaimed region instead of recursing back into the cache/heap
// machinery.
package bootstrap

import (
	"sync/atomic"

	"github.com/cacheline/apfalloc/internal/segment"
	"github.com/cacheline/apfalloc/internal/spinlock"
)

const defaultReserve = 128 * 1024

// Reserve is a bump-pointer arena backed by one or more OS segments.
type Reserve struct {
	lock     spinlock.Spinlock
	segments []segment.Segment
	next     uintptr
	avail    uintptr
	chunk    uintptr
}

var global = Reserve{chunk: defaultReserve}

// enabled mirrors the source's use_bootstrap flag: entry points route
// through this arena instead of the tuned allocator until the real
// allocator finishes bringing itself up.
var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// Enabled reports the current routing decision.
func Enabled() bool { return enabled.Load() }

// SetEnabled flips the routing decision; called once real allocator
// bring-up completes.
func SetEnabled(v bool) { enabled.Store(v) }

func (r *Reserve) growLocked(requestSize uintptr) {
	size := r.chunk
	if requestSize > size {
		size = requestSize
	}
	seg, err := segment.Allocate(size)
	if err != nil {
		panic("bootstrap: failed to grow reserve: " + err.Error())
	}
	r.segments = append(r.segments, seg)
	r.next = seg.Addr
	r.avail = seg.Len
}

// Allocate returns size bytes from the arena, growing it with a fresh
// segment if necessary. Never fails: segment.Allocate failure is fatal,
// matching spec §4.8 (bootstrap has no fallback path).
func Allocate(size uintptr) uintptr {
	global.lock.Lock()
	defer global.lock.Unlock()

	if size > global.avail {
		global.growLocked(size)
	}
	ptr := global.next
	global.next += size
	global.avail -= size
	return ptr
}

// Contains reports whether ptr was handed out by Allocate. Free on such a
// pointer is a no-op (spec §4.8: "bootstrap memory is never returned to
// any cache or heap").
func Contains(ptr uintptr) bool {
	global.lock.Lock()
	defer global.lock.Unlock()

	for _, seg := range global.segments {
		if ptr >= seg.Addr && ptr < seg.Addr+seg.Len {
			return true
		}
	}
	return false
}
