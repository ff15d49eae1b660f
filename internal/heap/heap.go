// Package heap implements the per-size-class heap described in spec §3/§4.4:
// a shared, lock-free LIFO of descriptors whose super-block is PARTIAL. It
// holds no blocks itself — only which descriptors a thread cache can pull
// from next.
package heap

import (
	"sync/atomic"

	"github.com/cacheline/apfalloc/internal/descriptor"
	"github.com/cacheline/apfalloc/internal/sizeclass"
)

// Heap is one size class's partial-descriptor stack.
type Heap struct {
	partial atomic.Uint64 // packed descriptor.Node
	Index   int
}

var table [sizeclass.NumClasses]Heap

func init() {
	for i := range table {
		table[i].Index = i
	}
}

// Of returns the shared heap for a size class index.
func Of(index int) *Heap {
	return &table[index]
}

func (h *Heap) load() descriptor.Node { return descriptor.Node(h.partial.Load()) }

// PushPartial pushes desc onto the partial stack. Treiber-style CAS with an
// ABA-guarding generation counter (spec §4.4, §9).
func (h *Heap) PushPartial(desc *descriptor.Descriptor) {
	for {
		oldHead := h.load()
		desc.StoreNextPartial(oldHead)
		newHead := descriptor.NodeOf(descPtr(desc), oldHead.Counter()+1)
		if h.partial.CompareAndSwap(uint64(oldHead), uint64(newHead)) {
			return
		}
	}
}

// PopPartial pops and returns the top of the partial stack, or nil if
// empty.
func (h *Heap) PopPartial() *descriptor.Descriptor {
	for {
		oldHead := h.load()
		d := oldHead.Descriptor()
		if d == nil {
			return nil
		}
		next := d.LoadNextPartial()
		newHead := descriptor.NodeOf(next.Ptr(), oldHead.Counter())
		if h.partial.CompareAndSwap(uint64(oldHead), uint64(newHead)) {
			return d
		}
	}
}
