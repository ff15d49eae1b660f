package cache

import (
	"github.com/cacheline/apfalloc/internal/descriptor"
	"github.com/cacheline/apfalloc/internal/heap"
	"github.com/cacheline/apfalloc/internal/pagemap"
	"github.com/cacheline/apfalloc/internal/segment"
)

// FlushCache returns every block in bin to its owning super-block,
// chunking by consecutive same-descriptor runs to amortize the Anchor CAS
// (spec §4.5).
func FlushCache(scIdx int, bin *Bin) {
	for !bin.Empty() {
		head := bin.Peek()
		desc, _ := decodeCookie(pagemap.Get(head))
		if desc == nil {
			// Not a pointer this allocator owns; drop it rather than
			// corrupt bookkeeping for a neighboring descriptor.
			bin.PopBlock()
			continue
		}

		sbBase, sbEnd := desc.SuperBlock, desc.SuperBlock+desc.SuperBlockLen

		k := uint32(1)
		addr := head
		for k < bin.Count() {
			next := loadNextPtr(addr)
			if next < sbBase || next >= sbEnd {
				break
			}
			addr = next
			k++
		}

		chainHead := bin.PopList(k)
		flushRun(scIdx, desc, sbBase, sbEnd, chainHead, k)
	}
}

// FlushN returns up to n blocks from the front of bin to their owning
// super-blocks, chunking by consecutive same-descriptor runs exactly like
// FlushCache. Used by the APF tuner's Return callback to shed surplus
// without draining the bin entirely (spec §4.6).
func FlushN(scIdx int, bin *Bin, n uint32) {
	if n > bin.Count() {
		n = bin.Count()
	}
	for n > 0 {
		head := bin.Peek()
		desc, _ := decodeCookie(pagemap.Get(head))
		if desc == nil {
			bin.PopBlock()
			n--
			continue
		}

		sbBase, sbEnd := desc.SuperBlock, desc.SuperBlock+desc.SuperBlockLen

		k := uint32(1)
		addr := head
		for k < n && k < bin.Count() {
			next := loadNextPtr(addr)
			if next < sbBase || next >= sbEnd {
				break
			}
			addr = next
			k++
		}

		chainHead := bin.PopList(k)
		flushRun(scIdx, desc, sbBase, sbEnd, chainHead, k)
		n -= k
	}
}

// flushRun splices a k-block, single-descriptor chain back into that
// descriptor's avail list via CAS, retrying with a freshly rebuilt tail
// link on contention. The chain is rewritten as an index chain once; a
// retry only relinks its tail to the newly loaded avail.
func flushRun(scIdx int, desc *descriptor.Descriptor, sbBase, sbEnd uintptr, chainHead uintptr, k uint32) {
	tail := chainHead
	for i := uint32(1); i < k; i++ {
		tail = loadNextPtr(tail)
	}
	newAvail := pushPointerListAsIndexChain(sbBase, desc.BlockSize, chainHead, k, noNext)
	for {
		old := desc.LoadAnchor()
		storeNextIndex(tail, old.Avail())
		newCount := old.Count() + k

		state := descriptor.Partial
		if newCount == desc.MaxCount {
			state = descriptor.Empty
		}
		newAnchor := descriptor.NewAnchor(state, newAvail, newCount)

		if !desc.CompareAndSwapAnchor(old, newAnchor) {
			continue
		}

		switch {
		case state == descriptor.Empty:
			pagemap.ClearRange(sbBase, sbEnd-sbBase)
			segment.Deallocate(segment.Segment{Addr: sbBase, Len: sbEnd - sbBase})
			descriptor.Retire(desc)
		case old.State() == descriptor.Full:
			heap.Of(scIdx).PushPartial(desc)
		}
		return
	}
}
