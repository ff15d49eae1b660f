// Package segment is the allocator's only door to the operating system.
// Everything above it — descriptors, page-map pages, super-blocks,
// independent containers, the bootstrap arena — gets its raw memory from
// here and never calls mmap/VirtualAlloc directly. See spec §4.1.
package segment

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/cacheline/apfalloc/internal/spinlock"
)

// PageSize is the allocator's notion of a page: 8 KiB, matching the page
// map's addressing granularity (spec §3, "8 KiB-aligned address").
const PageSize = 1 << 13

// ErrAllocationFailed is returned when the OS refuses a mapping request.
var ErrAllocationFailed = errors.New("segment: allocation failed")

// Segment is a raw, page-aligned byte range obtained from the OS.
type Segment struct {
	Addr uintptr
	Len  uintptr
}

// lock serializes allocate/deallocate calls, per spec §4.1: "a process-wide
// advisory flag serializes allocate/deallocate to avoid interleaved kernel
// calls that some platforms handle poorly."
var lock spinlock.Spinlock

// freeList is a best-effort cache of recently deallocated segments, bucketed
// by exact size, so a churning size class doesn't round-trip through the
// kernel on every super-block create/destroy. Entries here are optional:
// losing them (process exit, a size bucket that never fills) is harmless.
var (
	freeListMu sync.Mutex
	freeList   = map[uintptr][]Segment{}
)

// rawBases maps an Allocate-returned (page-aligned) address back to the raw,
// unaligned base mmap/VirtualAlloc actually gave us and the raw length that
// was requested for it. Allocate over-requests by one PageSize to be able to
// hand back a page-aligned address (see Allocate's doc comment); calls above
// this package only ever carry Addr/Len forward (the cache and the root
// package round-trip a Segment through a Descriptor's plain uintptr fields,
// not the Segment struct itself), so Deallocate cannot recover the raw base
// from its argument alone — it looks it up here instead, keyed by the
// aligned Addr every caller does have.
var (
	rawBasesMu sync.Mutex
	rawBases   = map[uintptr]struct{ addr, len uintptr }{}
)

const freeListCapPerSize = 8

func roundUp(n, to uintptr) uintptr {
	return (n + to - 1) &^ (to - 1)
}

func alignUpPage(addr uintptr) uintptr {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

// Allocate returns a readable, writable, zero-filled segment of at least
// size bytes, whose address is itself a multiple of PageSize. mmap/VirtualAlloc only
// guarantee alignment to the OS's native page size, which on most
// platforms is smaller than PageSize (8 KiB) — a super-block address that
// isn't PageSize-aligned would let two descriptors share one page-map
// entry (spec §3, "8 KiB-aligned address"). We over-request by one
// PageSize and use the first aligned address within the mapping; the raw
// base and length are recorded in rawBases so Deallocate can unmap the
// whole mapping, slack included, once this segment actually reaches the
// kernel instead of the free list.
func Allocate(size uintptr) (Segment, error) {
	size = roundUp(size, PageSize)

	freeListMu.Lock()
	if bucket := freeList[size]; len(bucket) > 0 {
		seg := bucket[len(bucket)-1]
		freeList[size] = bucket[:len(bucket)-1]
		freeListMu.Unlock()
		// A recycled segment still holds its previous owner's bytes; clear
		// it so it reads as zero, like a fresh mapping.
		clear(unsafe.Slice((*byte)(unsafe.Pointer(seg.Addr)), int(seg.Len)))
		return seg, nil
	}
	freeListMu.Unlock()

	rawLen := size + PageSize
	lock.Lock()
	raw, err := platformAllocate(rawLen)
	lock.Unlock()
	if err != nil {
		return Segment{}, errors.Wrap(ErrAllocationFailed, err.Error())
	}
	addr := alignUpPage(raw)

	rawBasesMu.Lock()
	rawBases[addr] = struct{ addr, len uintptr }{raw, rawLen}
	rawBasesMu.Unlock()

	return Segment{Addr: addr, Len: size}, nil
}

// AllocateMassive reserves a large span of address space that may
// over-commit; pages are backed physically only as they are touched. Used
// by the page map for its flat table.
func AllocateMassive(size uintptr) (Segment, error) {
	lock.Lock()
	addr, err := platformAllocateMassive(size)
	lock.Unlock()
	if err != nil {
		return Segment{}, errors.Wrap(ErrAllocationFailed, err.Error())
	}
	return Segment{Addr: addr, Len: size}, nil
}

// Touch ensures the given range of a massive reservation is backed by
// physical pages. On unix this is a no-op (anonymous mmap is already
// lazily-backed); on Windows a reserved-but-uncommitted range must be
// committed before first use.
func Touch(addr, length uintptr) error {
	return platformTouch(addr, length)
}

// Deallocate returns a segment. Best-effort: failure to unmap does not
// propagate as an error the caller must act on (spec §4.1).
func Deallocate(seg Segment) {
	freeListMu.Lock()
	bucket := freeList[seg.Len]
	if len(bucket) < freeListCapPerSize {
		freeList[seg.Len] = append(bucket, seg)
		freeListMu.Unlock()
		return
	}
	freeListMu.Unlock()

	// seg.Addr is the page-aligned address every caller actually holds
	// onto (including one reconstructed from a Descriptor's SuperBlock/
	// SuperBlockLen fields, which never carried a raw base). Recover the
	// real mmap range from rawBases so the alignment slack gets unmapped
	// too, not just the aligned portion.
	addr, rawLen := seg.Addr, seg.Len
	rawBasesMu.Lock()
	if rb, ok := rawBases[seg.Addr]; ok {
		addr, rawLen = rb.addr, rb.len
		delete(rawBases, seg.Addr)
	}
	rawBasesMu.Unlock()

	lock.Lock()
	_ = platformFree(addr, rawLen)
	lock.Unlock()
}
