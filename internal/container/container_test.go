package container

import "testing"

func TestArrayPushAndGetRoundTrip(t *testing.T) {
	a := NewArray[int](0)
	for i := 0; i < 100; i++ {
		a.Push(i * i)
	}
	if a.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", a.Len())
	}
	for i := 0; i < 100; i++ {
		if got := a.Get(i); got != i*i {
			t.Fatalf("Get(%d) = %d, want %d", i, got, i*i)
		}
	}
}

func TestArraySetOverwritesInPlace(t *testing.T) {
	a := NewArray[int](4)
	a.Push(1)
	a.Push(2)
	a.Set(0, 99)
	if got := a.Get(0); got != 99 {
		t.Fatalf("Get(0) = %d, want 99", got)
	}
	if got := a.Get(1); got != 2 {
		t.Fatalf("Get(1) = %d, want 2 (unaffected by Set(0, ...))", got)
	}
}

func TestArrayGrowthPreservesExistingElements(t *testing.T) {
	// NewArray(1) still gets a whole page (1024 ints); push past several
	// doublings of that.
	a := NewArray[int](1)
	const n = 5000
	for i := 0; i < n; i++ {
		a.Push(i)
	}
	for i := 0; i < n; i++ {
		if got := a.Get(i); got != i {
			t.Fatalf("after growth, Get(%d) = %d, want %d", i, got, i)
		}
	}
}

func TestIntMapSetGetAndOverwrite(t *testing.T) {
	m := NewIntMap()
	m.Set(10, 1)
	m.Set(20, 2)
	m.Set(10, 3) // overwrite

	if v, ok := m.Get(10); !ok || v != 3 {
		t.Fatalf("Get(10) = %d, %v, want 3, true", v, ok)
	}
	if v, ok := m.Get(20); !ok || v != 2 {
		t.Fatalf("Get(20) = %d, %v, want 2, true", v, ok)
	}
	if _, ok := m.Get(30); ok {
		t.Fatalf("Get(30) found a value that was never set")
	}
}

func TestIntMapSurvivesGrowth(t *testing.T) {
	m := NewIntMap()
	const n = 5000
	for i := uintptr(1); i <= n; i++ {
		m.Set(i, int(i))
	}
	for i := uintptr(1); i <= n; i++ {
		v, ok := m.Get(i)
		if !ok || v != int(i) {
			t.Fatalf("Get(%d) = %d, %v, want %d, true", i, v, ok, i)
		}
	}
}
