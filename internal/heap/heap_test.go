package heap

import (
	"testing"

	"github.com/cacheline/apfalloc/internal/descriptor"
)

func TestPushPopPartialIsLIFO(t *testing.T) {
	h := Of(1)

	d1 := descriptor.Alloc()
	d2 := descriptor.Alloc()
	d3 := descriptor.Alloc()
	defer descriptor.Retire(d1)
	defer descriptor.Retire(d2)
	defer descriptor.Retire(d3)

	h.PushPartial(d1)
	h.PushPartial(d2)
	h.PushPartial(d3)

	if got := h.PopPartial(); got != d3 {
		t.Fatalf("PopPartial() = %p, want %p (d3)", got, d3)
	}
	if got := h.PopPartial(); got != d2 {
		t.Fatalf("PopPartial() = %p, want %p (d2)", got, d2)
	}
	if got := h.PopPartial(); got != d1 {
		t.Fatalf("PopPartial() = %p, want %p (d1)", got, d1)
	}
	if got := h.PopPartial(); got != nil {
		t.Fatalf("PopPartial() on empty heap = %p, want nil", got)
	}
}

func TestPopPartialOnEmptyHeapReturnsNil(t *testing.T) {
	h := Of(2)
	if got := h.PopPartial(); got != nil {
		t.Fatalf("PopPartial() = %p, want nil", got)
	}
}

func TestConcurrentPushPopNeverDuplicatesADescriptor(t *testing.T) {
	h := Of(3)
	const n = 200

	descs := make([]*descriptor.Descriptor, n)
	for i := range descs {
		descs[i] = descriptor.Alloc()
		h.PushPartial(descs[i])
	}

	popped := make(chan *descriptor.Descriptor, n)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func() {
			for {
				d := h.PopPartial()
				if d == nil {
					select {
					case done <- struct{}{}:
					default:
					}
					return
				}
				popped <- d
			}
		}()
	}

	seen := map[*descriptor.Descriptor]bool{}
	for i := 0; i < n; i++ {
		d := <-popped
		if seen[d] {
			t.Fatalf("descriptor %p popped more than once", d)
		}
		seen[d] = true
	}
	for _, d := range descs {
		descriptor.Retire(d)
	}
}
