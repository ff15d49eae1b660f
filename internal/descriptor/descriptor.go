// Package descriptor implements the dedicated, never-freed descriptor pool
// described in spec §4.3. A descriptor's Anchor is updated by lock-free CAS,
// and descriptors are the only thing the page map points at,
// so they need stable addresses for the process lifetime — carved out of
// raw, non-GC segment memory exactly like the original implementation's
// page_alloc-backed descriptor blocks.
package descriptor

import (
	"sync/atomic"
	"unsafe"

	"github.com/cacheline/apfalloc/internal/segment"
	"github.com/cacheline/apfalloc/internal/spinlock"
)

// cacheLine is the alignment every Descriptor is placed at. Its low bits
// are therefore free: a Node keeps a generation counter there (the ABA
// guard of the heap's partial-list nodes), and a page-map cookie keeps a
// size-class index there instead.
const (
	cacheLine     = 64
	cacheLineMask = uint64(cacheLine - 1)
)

// descriptorBlockSize matches the original's DESCRIPTOR_BLOCK_SZ: 16 pages
// pulled from the segment layer at a time, to amortize mmap calls across
// many descriptors.
const descriptorBlockSize = 16 * segment.PageSize

// Descriptor is a super-block's metadata record. It is never freed: once a
// super-block is retired the descriptor is pushed onto the shared free
// list and handed back out by a later Alloc.
type Descriptor struct {
	NextFree    atomic.Uint64 // packed node: next free descriptor (pool free-list)
	NextPartial atomic.Uint64 // packed node: next descriptor in a heap's partial list
	anchor      atomic.Uint64 // packed Anchor

	SuperBlock uintptr // base address of the owned super-block
	SuperBlockLen uintptr

	HeapIndex  int32  // index into the owning size class's heap table
	BlockSize  uint32 // 0 once retired
	MaxCount   uint32 // block_num for this super-block's size class
}

// LoadAnchor reads the anchor. Lock-free.
func (d *Descriptor) LoadAnchor() Anchor { return Anchor(d.anchor.Load()) }

// StoreAnchor writes the anchor. Only safe when the descriptor is not yet
// visible to other goroutines (e.g. during malloc_from_new_sb, before the
// page map registration publishes it).
func (d *Descriptor) StoreAnchor(a Anchor) { d.anchor.Store(uint64(a)) }

// CompareAndSwapAnchor replaces the anchor with new if it still equals old.
// Lock-free (spec §4.4/§9).
func (d *Descriptor) CompareAndSwapAnchor(old, new Anchor) bool {
	return d.anchor.CompareAndSwap(uint64(old), uint64(new))
}

// Node is a tagged pointer to a Descriptor: the descriptor's (64-aligned)
// address in the high bits, a generation counter in the low 6 bits. This is
// the allocator's standard ABA guard for singly-linked, CAS-updated lists
// of descriptors (spec §9) — used both by the pool's internal free list
// (NextFree) and by internal/heap's partial-list stack (NextPartial).
type Node uint64

// NodeOf packs ptr (which must be cache-line aligned, or zero) and a
// generation counter into a Node.
func NodeOf(ptr uintptr, counter uint64) Node {
	if ptr != 0 && uint64(ptr)&cacheLineMask != 0 {
		panic("descriptor: pointer is not cache-line aligned")
	}
	return Node(uint64(ptr) | (counter & cacheLineMask))
}

func (n Node) Ptr() uintptr    { return uintptr(uint64(n) &^ cacheLineMask) }
func (n Node) Counter() uint64 { return uint64(n) & cacheLineMask }

// Descriptor dereferences the node's pointer, or nil if it is the empty
// sentinel.
func (n Node) Descriptor() *Descriptor {
	if n.Ptr() == 0 {
		return nil
	}
	return (*Descriptor)(unsafe.Pointer(n.Ptr()))
}

func loadNode(a *atomic.Uint64) Node     { return Node(a.Load()) }
func storeNode(a *atomic.Uint64, n Node) { a.Store(uint64(n)) }

// LoadNextPartial and StoreNextPartial expose the NextPartial link in terms
// of Node, for internal/heap's Treiber stack.
func (d *Descriptor) LoadNextPartial() Node        { return loadNode(&d.NextPartial) }
func (d *Descriptor) StoreNextPartial(n Node)       { storeNode(&d.NextPartial, n) }

var pool struct {
	lock spinlock.Spinlock
	head Node
}

// alignUp64 rounds addr up to the next cache-line boundary.
func alignUp64(addr uintptr) uintptr {
	return (addr + cacheLine - 1) &^ (cacheLine - 1)
}

// refill pulls a fresh descriptorBlockSize segment from the OS, threads
// every cache-line slot that fits into a singly-linked free list via
// NextFree, and pushes the whole chain onto pool.head. Caller must hold
// pool.lock.
func refill() {
	seg, err := segment.Allocate(descriptorBlockSize)
	if err != nil {
		panic("descriptor: failed to grow pool: " + err.Error())
	}

	descSize := alignUp64(uintptr(unsafe.Sizeof(Descriptor{})))
	first := alignUp64(seg.Addr)
	end := seg.Addr + seg.Len

	var prev *Descriptor
	var head uintptr
	for addr := first; addr+descSize <= end; addr += descSize {
		d := (*Descriptor)(unsafe.Pointer(addr))
		if head == 0 {
			head = addr
		}
		if prev != nil {
			storeNode(&prev.NextFree, NodeOf(addr, 0))
		}
		prev = d
	}
	if head == 0 {
		panic("descriptor: segment too small to hold a single descriptor")
	}
	storeNode(&prev.NextFree, pool.head)

	pool.head = NodeOf(head, pool.head.Counter()+1)
}

// Alloc returns a fresh descriptor, refilling the pool from the segment
// layer if it is empty. A descriptor from a fresh refill is zero-valued
// except for NextFree; a recycled one keeps every field of its previous
// use except BlockSize, which Retire zeroes. Callers set the fields they
// need, and overwrite NextFree, before publishing the descriptor anywhere
// (page map, a heap's partial list).
func Alloc() *Descriptor {
	pool.lock.Lock()
	defer pool.lock.Unlock()

	for pool.head.Ptr() == 0 {
		refill()
	}
	d := pool.head.Descriptor()
	next := loadNode(&d.NextFree)
	pool.head = NodeOf(next.Ptr(), pool.head.Counter())
	return d
}

// Retire returns a descriptor to the pool. Per spec §4.4, this happens once
// a super-block transitions to EMPTY and its segment has been returned;
// the descriptor itself lives on, its BlockSize zeroed, for future reuse.
func Retire(d *Descriptor) {
	d.BlockSize = 0
	pool.lock.Lock()
	defer pool.lock.Unlock()

	storeNode(&d.NextFree, pool.head)
	pool.head = NodeOf(uintptr(unsafe.Pointer(d)), pool.head.Counter()+1)
}
