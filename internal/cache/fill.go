package cache

import (
	"github.com/cacheline/apfalloc/internal/descriptor"
	"github.com/cacheline/apfalloc/internal/heap"
	"github.com/cacheline/apfalloc/internal/pagemap"
	"github.com/cacheline/apfalloc/internal/segment"
	"github.com/cacheline/apfalloc/internal/sizeclass"
)

// FillCache refills an empty bin for size class scIdx (spec §4.5). It
// refuses to return having added zero blocks: the only way it reports
// failure is when even a fresh super-block could not be obtained from the
// segment layer.
func FillCache(scIdx int, bin *Bin) bool {
	if mallocFromPartial(scIdx, bin) {
		return true
	}
	return mallocFromNewSB(scIdx, bin)
}

// mallocFromPartial pops a PARTIAL descriptor off the size class's heap and
// hands its entire free chain to bin.
func mallocFromPartial(scIdx int, bin *Bin) bool {
	h := heap.Of(scIdx)
	for {
		desc := h.PopPartial()
		if desc == nil {
			return false
		}

		var n, avail uint32
		won, empty := false, false
		for {
			old := desc.LoadAnchor()
			if old.State() == descriptor.Empty {
				// Discovered EMPTY mid-CAS (spec §9's "incomplete branch"
				// in the source this was grounded on): retire and look for
				// another partial descriptor instead.
				empty = true
				break
			}
			n, avail = old.Count(), old.Avail()
			newAnchor := descriptor.NewAnchor(descriptor.Full, avail, 0)
			if desc.CompareAndSwapAnchor(old, newAnchor) {
				won = true
				break
			}
		}
		if empty {
			descriptor.Retire(desc)
			continue
		}
		if !won || n == 0 {
			continue
		}

		head := popIndexChainAsPointerList(desc.SuperBlock, desc.BlockSize, avail, n)
		bin.PushList(head, n)
		return true
	}
}

// mallocFromNewSB requests a fresh super-block from the segment layer,
// threads its blocks into an index-linked free chain, hands the front
// min(cache_block_num, block_num) of them to bin as a pointer-linked list,
// and registers the remainder (if any) as the descriptor's PARTIAL avail
// chain — pushing the descriptor onto the heap's partial stack so those
// blocks stay reachable (spec §4.5 describes the PARTIAL anchor but is
// silent on publishing it; not doing so would strand the remaining blocks,
// so this implementation publishes it the same way flush_cache does for a
// FULL->PARTIAL transition).
func mallocFromNewSB(scIdx int, bin *Bin) bool {
	sc := sizeclass.Of(scIdx)

	seg, err := segment.Allocate(uintptr(sc.SBSize))
	if err != nil {
		return false
	}

	desc := descriptor.Alloc()
	desc.SuperBlock = seg.Addr
	desc.SuperBlockLen = seg.Len
	desc.BlockSize = sc.BlockSize
	desc.MaxCount = sc.BlockNum
	desc.HeapIndex = int32(scIdx)

	for i := uint32(0); i < sc.BlockNum; i++ {
		addr := blockAddr(seg.Addr, sc.BlockSize, i)
		next := i + 1
		if next == sc.BlockNum {
			next = noNext
		}
		storeNextIndex(addr, next)
	}

	take := sc.CacheBlockNum
	if take > sc.BlockNum {
		take = sc.BlockNum
	}
	if take == 0 {
		take = 1
	}

	head := popIndexChainAsPointerList(seg.Addr, sc.BlockSize, 0, take)
	bin.PushList(head, take)

	remaining := sc.BlockNum - take
	var anchor descriptor.Anchor
	if remaining == 0 {
		anchor = descriptor.NewAnchor(descriptor.Full, 0, 0)
	} else {
		anchor = descriptor.NewAnchor(descriptor.Partial, take, remaining)
	}
	desc.StoreAnchor(anchor)

	pagemap.SetRange(seg.Addr, seg.Len, CookieFor(desc, scIdx))

	if remaining != 0 {
		heap.Of(scIdx).PushPartial(desc)
	}
	return true
}
