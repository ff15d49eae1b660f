package cache

import "unsafe"

// noNext marks the end of a super-block's internal, index-linked free
// chain (spec §3: "a freed block stores, in its first word, the index ...
// used to chain it through the anchor's avail list"). Valid indices are
// bounded by sizeclass block_num, which is asserted < 1<<30 at table init,
// so this sentinel is never mistaken for a real index.
const noNext = ^uint32(0)

func blockAddr(sbBase uintptr, blockSize uint32, index uint32) uintptr {
	return sbBase + uintptr(index)*uintptr(blockSize)
}

func blockIndex(sbBase uintptr, blockSize uint32, addr uintptr) uint32 {
	return uint32((addr - sbBase) / uintptr(blockSize))
}

func loadNextIndex(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func storeNextIndex(addr uintptr, next uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = next
}

// popIndexChainAsPointerList walks a super-block's index-linked free chain
// starting at head, for exactly n blocks, rewriting each block's first word
// as a real next-pointer instead of a next-index so the result can be
// installed into a Bin with PushList. Returns the pointer-chain's head.
func popIndexChainAsPointerList(sbBase uintptr, blockSize uint32, head uint32, n uint32) uintptr {
	addrs := make([]uintptr, n)
	idx := head
	for i := uint32(0); i < n; i++ {
		addrs[i] = blockAddr(sbBase, blockSize, idx)
		if i+1 < n {
			idx = loadNextIndex(addrs[i])
		}
	}
	for i := uint32(0); i < n; i++ {
		var next uintptr
		if i+1 < n {
			next = addrs[i+1]
		}
		storeNextPtr(addrs[i], next)
	}
	return addrs[0]
}

// pushPointerListAsIndexChain is the inverse: given a pointer-linked chain
// of n blocks (all belonging to the same super-block), rewrites it as an
// index chain whose tail links to tailNext, and returns the index of the
// new chain's head. Only the first n-1 next-pointers are followed; the
// last block's next-pointer is ignored, so the chain need not be
// terminated.
func pushPointerListAsIndexChain(sbBase uintptr, blockSize uint32, head uintptr, n uint32, tailNext uint32) uint32 {
	addr := head
	for i := uint32(0); i < n; i++ {
		next := loadNextPtr(addr)
		nextIdx := tailNext
		if i+1 < n {
			nextIdx = blockIndex(sbBase, blockSize, next)
		}
		storeNextIndex(addr, nextIdx)
		addr = next
	}
	return blockIndex(sbBase, blockSize, head)
}
