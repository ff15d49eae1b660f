package apfalloc

import (
	"sync"
	"unsafe"

	"github.com/cacheline/apfalloc/internal/apf"
	"github.com/cacheline/apfalloc/internal/bootstrap"
	"github.com/cacheline/apfalloc/internal/cache"
	"github.com/cacheline/apfalloc/internal/descriptor"
	"github.com/cacheline/apfalloc/internal/pagemap"
	"github.com/cacheline/apfalloc/internal/segment"
	"github.com/cacheline/apfalloc/internal/sizeclass"
)

var (
	initOnce sync.Once

	// collector aggregates every live Cache's tuners for
	// PrometheusCollector.
	collector = apf.NewCollector()
)

// ensureInit brings the size class table and page map up exactly once,
// then flips the bootstrap routing flag off (spec §4.8: a global flag
// toggles which path entry points take). Every public entry point and
// Allocator/Cache constructor calls this before touching internal state.
func ensureInit() {
	initOnce.Do(func() {
		cfg := defaultConfig()
		sizeclass.Init(cfg.TargetAPF)
		pagemap.Init()
		bootstrap.SetEnabled(false)
	})
}

// Allocator is a handle to the process-wide allocator state. It carries no
// state of its own beyond triggering initialization; per spec §4.9 the
// interesting per-worker state lives in Cache.
type Allocator struct{}

// New returns an Allocator, initializing the shared size class table and
// page map on first call.
func New() *Allocator {
	ensureInit()
	return &Allocator{}
}

// NewCache returns a fresh per-worker thread cache with its own bins and
// APF tuners, suitable for a goroutine that wants stable cache affinity for
// its lifetime (spec §4.9).
func (a *Allocator) NewCache() *Cache {
	return newCache()
}

// Cache is a thread-cache's worth of per-size-class bins and APF tuners
// (spec §4.5/§4.6). A Cache must not be used concurrently from more than
// one goroutine at a time.
type Cache struct {
	bins   [sizeclass.NumClasses]*cache.Bin
	tuners [sizeclass.NumClasses]*apf.Tuner
}

func newCache() *Cache {
	ensureInit()
	cfg := defaultConfig()

	c := &Cache{}
	for i := 1; i < sizeclass.NumClasses; i++ {
		scIdx := i
		bin := cache.NewBin(scIdx)
		c.bins[scIdx] = bin

		check := func(int) uint32 { return bin.Count() }
		// FillCache refills by its own quantum (a partial descriptor's whole
		// free chain, or cache_block_num blocks of a new super-block); the
		// block count the tuner asks for is not used.
		get := func(_ int, _ int) bool { return cache.FillCache(scIdx, bin) }
		ret := func(_ int, n uint32) bool { cache.FlushN(scIdx, bin, n); return true }

		t := apf.New(scIdx, int(cfg.TargetAPF), cfg.MaxLivenessWindow, check, get, ret)
		c.tuners[scIdx] = t
		collector.Register(t)
	}
	return c
}

// Close flushes every non-empty bin back to the heap and drops this cache's
// tuner state, mirroring thread teardown (spec §5: "Thread-local
// destructors walk all bins and flush non-empty ones back to the heap.
// Tuner state is dropped").
func (c *Cache) Close() {
	for i := 1; i < sizeclass.NumClasses; i++ {
		bin := c.bins[i]
		if bin != nil && !bin.Empty() {
			cache.FlushCache(i, bin)
		}
		if t := c.tuners[i]; t != nil {
			collector.Unregister(t)
		}
	}
}

// Malloc implements spec §4.7's malloc(size).
func (c *Cache) Malloc(size uintptr) unsafe.Pointer {
	mallocCalled.Store(true)
	ensureInit()
	if bootstrap.Enabled() {
		return unsafe.Pointer(bootstrap.Allocate(size))
	}

	scIdx := sizeclass.Lookup(size)
	if scIdx == 0 {
		return c.mallocLarge(size)
	}

	bin := c.bins[scIdx]
	if bin.Empty() {
		if !cache.FillCache(scIdx, bin) {
			return nil
		}
	}
	ptr := bin.PopBlock()
	c.tuners[scIdx].Malloc(ptr)
	return unsafe.Pointer(ptr)
}

// mallocLarge serves size > sizeclass.MaxSize directly from the segment
// layer: one segment, one descriptor with block_size == request and
// max_count == 1, registered across every page it spans (spec §9 "Large
// allocations").
func (c *Cache) mallocLarge(size uintptr) unsafe.Pointer {
	seg, err := segment.Allocate(size)
	if err != nil {
		return nil
	}

	desc := descriptor.Alloc()
	desc.SuperBlock = seg.Addr
	desc.SuperBlockLen = seg.Len
	desc.BlockSize = uint32(size)
	desc.MaxCount = 1
	desc.HeapIndex = 0
	desc.StoreAnchor(descriptor.NewAnchor(descriptor.Full, 0, 0))

	pagemap.SetRange(seg.Addr, seg.Len, cache.CookieFor(desc, 0))
	return unsafe.Pointer(seg.Addr)
}

// Calloc implements spec §4.7's calloc(n, size): malloc(n*size) then zero.
// Fresh pages from the segment layer are already zero, so only blocks
// recycled through a bin (which may carry stale contents from a prior
// occupant) need an explicit clear.
func (c *Cache) Calloc(n, size uintptr) unsafe.Pointer {
	callocCalled.Store(true)
	total := n * size
	if size != 0 && total/size != n {
		return nil // overflow: not an allocation this allocator can satisfy
	}

	ptr := c.Malloc(total)
	if ptr == nil {
		return nil
	}
	if bootstrap.Contains(uintptr(ptr)) {
		return ptr // bootstrap segments are fresh OS pages: already zero
	}
	if sizeclass.Lookup(total) != 0 {
		zero(uintptr(ptr), total)
	}
	return ptr
}

func zero(ptr, size uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(size))
	for i := range b {
		b[i] = 0
	}
}

// Free implements spec §4.7's free(p): look up the descriptor, derive the
// size class, push onto the owning bin, notify the tuner. A pointer this
// allocator does not own is silently ignored (spec §7 kind 2).
func (c *Cache) Free(p unsafe.Pointer) {
	freeCalled.Store(true)
	ensureInit()
	if p == nil {
		return
	}
	ptr := uintptr(p)

	if bootstrap.Contains(ptr) {
		return // bootstrap memory is never reclaimed (spec §4.8)
	}

	scIdx, _, ok := cache.Lookup(ptr)
	if !ok {
		return
	}
	if scIdx == 0 {
		c.freeLarge(ptr)
		return
	}

	bin := c.bins[scIdx]
	bin.PushBlock(ptr)
	if tunedFlush := c.tuners[scIdx].Free(ptr); !tunedFlush {
		cbn := sizeclass.Of(scIdx).CacheBlockNum
		if bin.Count() > 2*cbn {
			cache.FlushN(scIdx, bin, cbn)
		}
	}
}

func (c *Cache) freeLarge(ptr uintptr) {
	desc := cache.LookupDescriptor(ptr)
	if desc == nil {
		fatal("free: page map returned no descriptor for a live large allocation")
	}
	pagemap.ClearRange(desc.SuperBlock, desc.SuperBlockLen)
	segment.Deallocate(segment.Segment{Addr: desc.SuperBlock, Len: desc.SuperBlockLen})
	descriptor.Retire(desc)
}

// Realloc implements spec §4.7's realloc(p, n).
func (c *Cache) Realloc(p unsafe.Pointer, n uintptr) unsafe.Pointer {
	reallocCalled.Store(true)
	if p == nil {
		return c.Malloc(n)
	}
	if n == 0 {
		c.Free(p)
		return nil
	}

	ptr := uintptr(p)
	scIdx, oldBlockSize, ok := cache.Lookup(ptr)
	if !ok {
		return nil // spec §7 kind 2: pointer not owned by this allocator
	}

	if scIdx != 0 && sizeclass.Lookup(n) == scIdx {
		return p
	}

	newPtr := c.Malloc(n)
	if newPtr == nil {
		return nil
	}
	copySize := uintptr(oldBlockSize)
	if n < copySize {
		copySize = n
	}
	copyBytes(uintptr(newPtr), ptr, copySize)
	c.Free(p)
	return newPtr
}

func copyBytes(dst, src, n uintptr) {
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(n))
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(n))
	copy(d, s)
}

// AlignedAlloc implements spec §4.7's aligned_alloc(align, size): if the
// size class's natural block alignment already satisfies align, this is
// plain malloc; otherwise a dedicated over-sized allocation is carved out
// of the segment layer and the descriptor covers the whole thing so free
// can resolve it (spec §7 kind 2: a non-power-of-two align is invalid and
// returns nil).
func (c *Cache) AlignedAlloc(align, size uintptr) unsafe.Pointer {
	alignedAllocCalled.Store(true)
	ensureInit()
	if align == 0 || align&(align-1) != 0 || size%align != 0 {
		return nil
	}

	scIdx := sizeclass.Lookup(size)
	if scIdx != 0 {
		cls := sizeclass.Of(scIdx)
		if blockAlignment(cls.BlockSize) >= align {
			return c.Malloc(size)
		}
	}
	return c.mallocAlignedLarge(align, size)
}

// blockAlignment returns the largest power-of-two alignment a block at
// offset i*blockSize from a page-aligned super-block base is guaranteed to
// have: the lowest set bit of blockSize (or the page size, if blockSize is
// itself page-aligned or zero).
func blockAlignment(blockSize uint32) uintptr {
	if blockSize == 0 {
		return segment.PageSize
	}
	align := uintptr(blockSize) & -uintptr(blockSize)
	if align > segment.PageSize {
		align = segment.PageSize
	}
	return align
}

func (c *Cache) mallocAlignedLarge(align, size uintptr) unsafe.Pointer {
	seg, err := segment.Allocate(size + align)
	if err != nil {
		return nil
	}

	aligned := (seg.Addr + align - 1) &^ (align - 1)

	desc := descriptor.Alloc()
	desc.SuperBlock = seg.Addr
	desc.SuperBlockLen = seg.Len
	desc.BlockSize = uint32(size)
	desc.MaxCount = 1
	desc.HeapIndex = 0
	desc.StoreAnchor(descriptor.NewAnchor(descriptor.Full, 0, 0))

	pagemap.SetRange(seg.Addr, seg.Len, cache.CookieFor(desc, 0))
	return unsafe.Pointer(aligned)
}

// PrometheusCollector exposes the process-wide APF tuner metrics (spec §6
// "Metrics"). Registering it with a prometheus.Registry surfaces the
// fetch-count-per-bin data that spec §8 scenario 6 describes.
func PrometheusCollector() *apf.Collector { return collector }
