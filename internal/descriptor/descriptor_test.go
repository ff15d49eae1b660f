package descriptor

import (
	"testing"
	"unsafe"
)

func uintptrOf(d *Descriptor) uintptr { return uintptr(unsafe.Pointer(d)) }

func TestAnchorPacksAndUnpacksFields(t *testing.T) {
	cases := []struct {
		state SuperBlockState
		avail uint32
		count uint32
	}{
		{Full, 0, 0},
		{Partial, 12345, 678},
		{Empty, 1<<30 - 1, 1<<32 - 1},
	}
	for _, c := range cases {
		a := NewAnchor(c.state, c.avail, c.count)
		if a.State() != c.state {
			t.Fatalf("State() = %v, want %v", a.State(), c.state)
		}
		if a.Avail() != c.avail {
			t.Fatalf("Avail() = %d, want %d", a.Avail(), c.avail)
		}
		if a.Count() != c.count {
			t.Fatalf("Count() = %d, want %d", a.Count(), c.count)
		}
	}
}

func TestAnchorWithBuildersPreserveOtherFields(t *testing.T) {
	a := NewAnchor(Partial, 7, 9)
	a = a.WithState(Empty)
	if a.State() != Empty || a.Avail() != 7 || a.Count() != 9 {
		t.Fatalf("WithState mutated unrelated fields: %+v", a)
	}
	a = a.WithAvail(42)
	if a.Avail() != 42 || a.Count() != 9 {
		t.Fatalf("WithAvail mutated unrelated fields: %+v", a)
	}
	a = a.WithCount(100)
	if a.Count() != 100 || a.Avail() != 42 {
		t.Fatalf("WithCount mutated unrelated fields: %+v", a)
	}
}

func TestNodeRoundTripsPointerAndCounter(t *testing.T) {
	d := Alloc()
	ptr := uintptrOf(d)

	for counter := uint64(0); counter < cacheLine; counter++ {
		n := NodeOf(ptr, counter)
		if n.Ptr() != ptr {
			t.Fatalf("Ptr() = %x, want %x", n.Ptr(), ptr)
		}
		if n.Counter() != counter {
			t.Fatalf("Counter() = %d, want %d", n.Counter(), counter)
		}
	}
	Retire(d)
}

func TestAllocReturnsCacheLineAlignedDistinctDescriptors(t *testing.T) {
	seen := map[uintptr]bool{}
	var got []*Descriptor
	for i := 0; i < 64; i++ {
		d := Alloc()
		ptr := uintptrOf(d)
		if ptr&cacheLineMask != 0 {
			t.Fatalf("descriptor %x is not cache-line aligned", ptr)
		}
		if seen[ptr] {
			t.Fatalf("Alloc returned the same descriptor twice: %x", ptr)
		}
		seen[ptr] = true
		got = append(got, d)
	}
	for _, d := range got {
		Retire(d)
	}
}

func TestRetireMakesDescriptorReachableAgain(t *testing.T) {
	d := Alloc()
	d.BlockSize = 123
	Retire(d)
	if d.BlockSize != 0 {
		t.Fatalf("Retire did not clear BlockSize")
	}

	// The pool is LIFO: the very next Alloc must hand back the descriptor
	// just retired (spec §9 "Descriptor non-reclamation").
	if got := Alloc(); got != d {
		t.Fatalf("Alloc() = %p after Retire(%p), want the same descriptor back", got, d)
	}
	Retire(d)
}
