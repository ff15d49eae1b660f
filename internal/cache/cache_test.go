package cache

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/cacheline/apfalloc/internal/pagemap"
	"github.com/cacheline/apfalloc/internal/sizeclass"
)

func uintptrOfInt(x *int) uintptr { return uintptr(unsafe.Pointer(x)) }

var initTestAllocator = sync.OnceFunc(func() {
	sizeclass.Init(5000)
	pagemap.Init()
})

func TestFillCacheThenFlushReturnsBinToEmpty(t *testing.T) {
	initTestAllocator()

	const scIdx = 1
	bin := NewBin(scIdx)

	if !FillCache(scIdx, bin) {
		t.Fatalf("FillCache failed")
	}
	if bin.Empty() {
		t.Fatalf("bin is empty after a successful FillCache")
	}

	FlushCache(scIdx, bin)
	if !bin.Empty() {
		t.Fatalf("bin has %d blocks left after FlushCache", bin.Count())
	}
}

func TestFilledBlocksAreDistinctAddresses(t *testing.T) {
	initTestAllocator()

	const scIdx = 2
	bin := NewBin(scIdx)
	if !FillCache(scIdx, bin) {
		t.Fatalf("FillCache failed")
	}

	seen := map[uintptr]bool{}
	n := bin.Count()
	for i := uint32(0); i < n; i++ {
		p := bin.PopBlock()
		if seen[p] {
			t.Fatalf("block %x handed out twice within one fill", p)
		}
		seen[p] = true
	}
}

func TestLookupResolvesAnAllocatedBlockToItsSizeClass(t *testing.T) {
	initTestAllocator()

	const scIdx = 3
	bin := NewBin(scIdx)
	if !FillCache(scIdx, bin) {
		t.Fatalf("FillCache failed")
	}
	p := bin.PopBlock()

	gotSc, blockSize, ok := Lookup(p)
	if !ok {
		t.Fatalf("Lookup(%x) found nothing", p)
	}
	if gotSc != scIdx {
		t.Fatalf("Lookup size class = %d, want %d", gotSc, scIdx)
	}
	if blockSize != sizeclass.Of(scIdx).BlockSize {
		t.Fatalf("Lookup block size = %d, want %d", blockSize, sizeclass.Of(scIdx).BlockSize)
	}

	bin.PushBlock(p)
	FlushCache(scIdx, bin)
}

func TestLookupOnUnownedPointerFails(t *testing.T) {
	initTestAllocator()

	var x int
	if _, _, ok := Lookup(uintptrOfInt(&x)); ok {
		t.Fatalf("Lookup resolved a pointer this allocator never handed out")
	}
}

func TestFlushNReturnsOnlyTheRequestedCount(t *testing.T) {
	initTestAllocator()

	const scIdx = 4
	bin := NewBin(scIdx)
	if !FillCache(scIdx, bin) {
		t.Fatalf("FillCache failed")
	}
	total := bin.Count()
	if total < 2 {
		t.Skip("size class too small to exercise a partial flush")
	}

	FlushN(scIdx, bin, 1)
	if bin.Count() != total-1 {
		t.Fatalf("bin has %d blocks after FlushN(1), want %d", bin.Count(), total-1)
	}

	FlushCache(scIdx, bin)
}
