package apfalloc

import (
	"math/rand"
	"sync"
	"testing"
	"unsafe"

	"github.com/cacheline/apfalloc/internal/sizeclass"
)

// Scenario 1 (spec §8): allocate 10,000 blocks of 8 bytes in a single
// thread, write a marker, check every marker survives, and free all.
func TestSingleThreadAllocateWriteFreeAll(t *testing.T) {
	c := New().NewCache()
	defer c.Close()

	const n = 10000
	ptrs := make([]unsafe.Pointer, n)
	for i := range ptrs {
		p := c.Malloc(8)
		if p == nil {
			t.Fatalf("Malloc(8) returned nil at i=%d", i)
		}
		*(*byte)(p) = 0xAB
		ptrs[i] = p
	}
	for _, p := range ptrs {
		if *(*byte)(p) != 0xAB {
			t.Fatalf("marker byte corrupted before free")
		}
		c.Free(p)
	}
}

// Scenario 2 (spec §8): allocate 256 pointers of 8 bytes from each of 30
// goroutines into a shared vector; every pointer is distinct and every
// stored marker survives join.
func TestConcurrentAllocationsAreDistinctAndMarkersSurvive(t *testing.T) {
	const goroutines = 30
	const perGoroutine = 256
	const marker = 0xDEADBEAF & 0xFF // the byte this test actually writes

	var mu sync.Mutex
	all := make([]unsafe.Pointer, 0, goroutines*perGoroutine)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			local := make([]unsafe.Pointer, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				p := Malloc(8)
				if p == nil {
					t.Errorf("Malloc(8) returned nil")
					return
				}
				*(*byte)(p) = marker
				local = append(local, p)
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := map[unsafe.Pointer]bool{}
	for _, p := range all {
		if seen[p] {
			t.Fatalf("pointer %p handed out to more than one goroutine", p)
		}
		seen[p] = true
		if *(*byte)(p) != marker {
			t.Fatalf("marker at %p did not survive join", p)
		}
	}
	for _, p := range all {
		Free(p)
	}
}

// Scenario 3 (spec §8): realloc idempotence within a size class, and a
// cross-class realloc preserving the overlapping prefix.
func TestReallocIdempotentWithinClassMovesAcrossClasses(t *testing.T) {
	c := New().NewCache()
	defer c.Close()

	p := c.Malloc(16)
	if p == nil {
		t.Fatalf("Malloc(16) returned nil")
	}
	*(*byte)(p) = 0x42

	q := c.Realloc(p, 16)
	if q != p {
		t.Fatalf("Realloc(p, 16) = %p, want %p (same class, same pointer)", q, p)
	}

	r := c.Realloc(q, 4096)
	if r == nil {
		t.Fatalf("Realloc(q, 4096) returned nil")
	}
	if r == q {
		t.Fatalf("Realloc(q, 4096) returned the same pointer; expected a move to a larger class")
	}
	if *(*byte)(r) != 0x42 {
		t.Fatalf("Realloc did not preserve the first byte across the move")
	}
	c.Free(r)
}

// Scenario 4 (spec §8): free a pointer not owned by this allocator; the
// entry point must not corrupt internal state.
func TestFreeingAnUnownedPointerIsSafe(t *testing.T) {
	c := New().NewCache()
	defer c.Close()

	var stackVar int
	c.Free(unsafe.Pointer(&stackVar))

	p := c.Malloc(32)
	if p == nil {
		t.Fatalf("Malloc(32) returned nil after freeing an unowned pointer")
	}
	c.Free(p)
}

func TestMallocZeroSizeReturnsAUniqueFreeablePointer(t *testing.T) {
	c := New().NewCache()
	defer c.Close()

	p := c.Malloc(0)
	if p == nil {
		t.Fatalf("Malloc(0) returned nil; spec allows null or a unique freeable pointer")
	}
	c.Free(p)
}

func TestFreeNilIsANoOp(t *testing.T) {
	c := New().NewCache()
	defer c.Close()
	c.Free(nil)
}

func TestAlignedAllocRejectsNonPowerOfTwoAlignment(t *testing.T) {
	c := New().NewCache()
	defer c.Close()

	if p := c.AlignedAlloc(3, 96); p != nil {
		t.Fatalf("AlignedAlloc with non-power-of-two alignment = %p, want nil", p)
	}
}

func TestAlignedAllocReturnsProperlyAlignedPointer(t *testing.T) {
	c := New().NewCache()
	defer c.Close()

	// An alignment this large forces the dedicated over-sized path (no
	// size class's block alignment could satisfy it), which explicitly
	// rounds the returned pointer up to align.
	const align = 1 << 20
	p := c.AlignedAlloc(align, align)
	if p == nil {
		t.Fatalf("AlignedAlloc(%d, %d) returned nil", align, align)
	}
	if uintptr(p)%align != 0 {
		t.Fatalf("AlignedAlloc returned %p, not aligned to %d", p, align)
	}
	c.Free(p)
}

func TestLargeAllocationRoundTrips(t *testing.T) {
	c := New().NewCache()
	defer c.Close()

	const size = 1 << 20 // exceeds the largest size class
	p := c.Malloc(size)
	if p == nil {
		t.Fatalf("Malloc(%d) returned nil", size)
	}
	*(*byte)(p) = 0x7

	q := c.Realloc(p, size/2)
	if q == nil {
		t.Fatalf("Realloc to a smaller large size returned nil")
	}
	if *(*byte)(q) != 0x7 {
		t.Fatalf("Realloc of a large allocation lost its contents")
	}
	c.Free(q)
}

func TestInterpositionFlagsRecordEachEntryPoint(t *testing.T) {
	c := New().NewCache()
	defer c.Close()

	p := c.Malloc(16)
	q := c.Calloc(2, 16)
	r := c.Realloc(p, 32)
	a := c.AlignedAlloc(16, 32)
	c.Free(r)
	c.Free(q)
	c.Free(a)

	s := CurrentStats()
	if !s.MallocCalled || !s.CallocCalled || !s.ReallocCalled || !s.FreeCalled || !s.AlignedAllocCalled {
		t.Fatalf("not all interposition flags set: %+v", s)
	}
}

// Scenario 5 (spec §8): 400 concurrent bins, 100,000 operations total, each
// picking a random size class and one of {malloc, aligned_alloc, realloc},
// writing 1 to the first byte. No double-free, no use-after-free, and every
// pointer still live at the end is freeable.
func TestRandomizedBinChurnAcrossManyGoroutines(t *testing.T) {
	const goroutines = 400
	const opsPerGoroutine = 250 // 400 * 250 = 100,000

	allocator := New()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(seed int64) {
			defer wg.Done()
			churnOneBin(t, allocator, seed, opsPerGoroutine)
		}(int64(g))
	}
	wg.Wait()
}

// churnOneBin drives one goroutine's private Cache through opsPerGoroutine
// randomized malloc/aligned_alloc/realloc operations, tracking every
// still-live pointer so it can verify the marker byte survived and, at the
// end, free everything without a double-free.
func churnOneBin(t *testing.T, allocator *Allocator, seed int64, ops int) {
	cache := allocator.NewCache()
	defer cache.Close()

	rng := rand.New(rand.NewSource(seed))
	var live []unsafe.Pointer

	randomSize := func() uintptr {
		return uintptr(rng.Intn(int(sizeclass.MaxSize)) + 1)
	}
	randomAlignedSize := func() (align, size uintptr) {
		aligns := [...]uintptr{8, 16, 32, 64, 128}
		align = aligns[rng.Intn(len(aligns))]
		size = align * uintptr(rng.Intn(64)+1)
		return align, size
	}

	for i := 0; i < ops; i++ {
		switch rng.Intn(3) {
		case 0: // malloc
			p := cache.Malloc(randomSize())
			if p == nil {
				t.Errorf("Malloc returned nil during churn")
				return
			}
			*(*byte)(p) = 1
			live = append(live, p)

		case 1: // aligned_alloc
			align, size := randomAlignedSize()
			p := cache.AlignedAlloc(align, size)
			if p == nil {
				t.Errorf("AlignedAlloc(%d, %d) returned nil during churn", align, size)
				return
			}
			if uintptr(p)%align != 0 {
				t.Errorf("AlignedAlloc(%d, %d) returned a misaligned pointer", align, size)
				return
			}
			*(*byte)(p) = 1
			live = append(live, p)

		case 2: // realloc
			if len(live) == 0 {
				p := cache.Malloc(randomSize())
				if p == nil {
					t.Errorf("Malloc returned nil during churn")
					return
				}
				*(*byte)(p) = 1
				live = append(live, p)
				continue
			}
			idx := rng.Intn(len(live))
			if *(*byte)(live[idx]) != 1 {
				t.Errorf("marker byte corrupted before realloc (use-after-free or overlap)")
				return
			}
			p := cache.Realloc(live[idx], randomSize())
			if p == nil {
				t.Errorf("Realloc returned nil during churn")
				return
			}
			*(*byte)(p) = 1
			live[idx] = p
		}
	}

	for _, p := range live {
		*(*byte)(p) = 1 // last use-after-free check before the real free below
		cache.Free(p)
	}
}
