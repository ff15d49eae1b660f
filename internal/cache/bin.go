// Package cache implements the per-thread, per-size-class cache bin and its
// fill/flush protocol (spec §3, §4.5): the allocator's hot path. A Bin is
// plain, thread-local state — no atomics, no locks — because exactly one
// goroutine ever touches a given Bin between FillCache and FlushCache
// calls.
package cache

import "unsafe"

// Bin is a LIFO of free blocks for one size class, threaded through the
// first machine word of each free block.
type Bin struct {
	head           uintptr
	count          uint32
	sizeClassIndex int
}

func loadNextPtr(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

func storeNextPtr(addr uintptr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = next
}

// NewBin returns an empty bin for the given size class index.
func NewBin(sizeClassIndex int) *Bin {
	return &Bin{sizeClassIndex: sizeClassIndex}
}

// SizeClassIndex reports which size class this bin serves.
func (b *Bin) SizeClassIndex() int { return b.sizeClassIndex }

// Count is the number of free blocks currently held.
func (b *Bin) Count() uint32 { return b.count }

// Empty reports whether the bin holds no free blocks.
func (b *Bin) Empty() bool { return b.count == 0 }

// Peek returns the head block's address without removing it, or 0 if
// empty.
func (b *Bin) Peek() uintptr { return b.head }

// PushBlock prepends p to the free list (spec §4.5).
func (b *Bin) PushBlock(p uintptr) {
	storeNextPtr(p, b.head)
	b.head = p
	b.count++
}

// PopBlock removes and returns the head block. Caller must check Empty
// first.
func (b *Bin) PopBlock() uintptr {
	p := b.head
	b.head = loadNextPtr(p)
	b.count--
	return p
}

// PushList installs a pre-built chain of n blocks as the bin's entire
// contents. Only valid when the bin is empty (spec §4.5).
func (b *Bin) PushList(head uintptr, n uint32) {
	if b.count != 0 {
		panic("cache: push_list onto a non-empty bin")
	}
	b.head = head
	b.count = n
}

// PopList removes the front n blocks as one chain and returns its head; the
// last popped block's next-pointer is left untouched (callers needing a
// terminated chain must fix up the last link themselves).
func (b *Bin) PopList(n uint32) uintptr {
	if n == 0 || n > b.count {
		panic("cache: pop_list count out of range")
	}
	head := b.head
	cur := head
	for i := uint32(1); i < n; i++ {
		cur = loadNextPtr(cur)
	}
	b.head = loadNextPtr(cur)
	b.count -= n
	return head
}
