// Package apfalloc is a general-purpose, thread-caching memory allocator
// with an online workload tuner.
//
// Allocation proceeds up the same hierarchy tcmalloc-derived allocators
// always do: a per-size-class thread cache bin services most requests
// without synchronization; an empty bin refills from its size class's
// shared partial-descriptor list or, failing that, a fresh super-block
// carved out of the OS segment layer (internal/sizeclass, internal/heap,
// internal/cache). Requests above the largest size class bypass all of
// that and go straight to the segment layer (see Cache.mallocLarge).
//
// What sets this allocator apart is internal/apf: an Average
// Page-Faults-per-fetch tuner sampling each bin's live-object count and
// reuse distance to decide, online, when to refill a bin and how many
// blocks to shed on flush — instead of the fixed flush batch a plain
// tcmalloc port would use. The size of each refill is set by the fill
// path, not by the tuner.
//
// Most callers only need the package-level Malloc/Calloc/Realloc/Free/
// AlignedAlloc functions, which borrow a *Cache from a pool for the
// duration of each call. Callers that want a worker goroutine to keep its
// own cache (avoiding pool contention and carrying its tuners' state
// across calls) should call New().NewCache() directly and Close() it on
// shutdown.
package apfalloc

import (
	"runtime"
	"sync"
	"unsafe"
)

var cachePool = sync.Pool{
	New: func() any {
		c := New().NewCache()
		// sync.Pool may drop an idle Cache instead of ever returning it to
		// Put again (e.g. across a GC cycle); without this, blocks sitting
		// in its bins at that moment would never make it back to the
		// heap's partial list. The finalizer is the closest Go equivalent
		// of the thread-exit hook spec §5 assumes every cache gets.
		runtime.SetFinalizer(c, (*Cache).Close)
		return c
	},
}

func borrowCache() *Cache {
	return cachePool.Get().(*Cache)
}

func returnCache(c *Cache) {
	cachePool.Put(c)
}

// Malloc allocates size bytes and returns a pointer to them, or nil on
// failure (spec §6/§7). The returned memory's contents are unspecified.
func Malloc(size uintptr) unsafe.Pointer {
	c := borrowCache()
	defer returnCache(c)
	return c.Malloc(size)
}

// Calloc allocates space for n objects of size bytes each, zeroed.
func Calloc(n, size uintptr) unsafe.Pointer {
	c := borrowCache()
	defer returnCache(c)
	return c.Calloc(n, size)
}

// Realloc resizes the allocation at p to n bytes, preserving its contents
// up to min(old size, n), and returns the (possibly moved) pointer.
func Realloc(p unsafe.Pointer, n uintptr) unsafe.Pointer {
	c := borrowCache()
	defer returnCache(c)
	return c.Realloc(p, n)
}

// Free releases the allocation at p. A nil pointer, or one this allocator
// did not hand out, is a safe no-op (spec §6/§7).
func Free(p unsafe.Pointer) {
	c := borrowCache()
	defer returnCache(c)
	c.Free(p)
}

// AlignedAlloc allocates size bytes aligned to align, which must be a
// power of two dividing size evenly (spec §6).
func AlignedAlloc(align, size uintptr) unsafe.Pointer {
	c := borrowCache()
	defer returnCache(c)
	return c.AlignedAlloc(align, size)
}
