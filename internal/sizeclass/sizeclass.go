// Package sizeclass builds and looks up the allocator's size class table.
// See spec §3 and §4.2.
//
// The base block sizes come from the same group/delta generation jemalloc
// uses (and that the original apfmalloc source's size_classes.rs macro
// expanded by hand): block_size = (1<<lgGroup) + (nDelta<<lgDelta). The
// super-block size for each class is then widened, at first use, until it
// is both a multiple of block_size and at least TargetAPF*block_size,
// rounded up to a page — spec §4.2.
package sizeclass

import (
	"fmt"

	"github.com/cacheline/apfalloc/internal/segment"
)

// NumClasses is the size of the table, including the sentinel entry 0.
const NumClasses = 40

// MaxSize is the largest request size served by a size class; requests
// larger than this go through direct large-allocation (spec §4.7).
var MaxSize uint32

// Class describes one size class's static layout, post TargetAPF widening.
type Class struct {
	BlockSize     uint32
	SBSize        uint32
	BlockNum      uint32
	CacheBlockNum uint32
}

var (
	classes [NumClasses]Class
	lookup  []uint8 // lookup[size] = smallest class index with BlockSize >= size
)

type group struct {
	lgGroup, lgDelta, nDelta uint32
}

// The 39 non-sentinel classes, in the (lg_grp, lg_delta, ndelta) form used
// by original_source/src/size_classes.rs's sc! macro.
var groups = [NumClasses - 1]group{
	{3, 3, 0}, {3, 3, 1}, {3, 3, 2}, {3, 3, 3},
	{5, 3, 1}, {5, 3, 2}, {5, 3, 3}, {5, 3, 4},
	{6, 4, 1}, {6, 4, 2}, {6, 4, 3}, {6, 4, 4},
	{7, 5, 1}, {7, 5, 2}, {7, 5, 3}, {7, 5, 4},
	{8, 6, 1}, {8, 6, 2}, {8, 6, 3}, {8, 6, 4},
	{9, 7, 1}, {9, 7, 2}, {9, 7, 3}, {9, 7, 4},
	{10, 8, 1}, {10, 8, 2}, {10, 8, 3}, {10, 8, 4},
	{11, 9, 1}, {11, 9, 2}, {11, 9, 3}, {11, 9, 4},
	{12, 10, 1}, {12, 10, 2}, {12, 10, 3}, {12, 10, 4},
	{13, 11, 1}, {13, 11, 2}, {13, 11, 3},
}

func roundUpPage(n uint32) uint32 {
	const mask = segment.PageSize - 1
	return (n + mask) &^ mask
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// lcmPageAligned returns the smallest multiple of both segment.PageSize and
// blockSize.
func lcmPageAligned(blockSize uint32) uint32 {
	return segment.PageSize / gcd(segment.PageSize, blockSize) * blockSize
}

// Init computes the size class table for the given TARGET_APF. It must run
// once before any lookup; callers (engine.go) call it during process
// bring-up, guarded by sync.Once.
func Init(targetAPF uint32) {
	for i, g := range groups {
		idx := i + 1
		blockSize := (uint32(1) << g.lgGroup) + (g.nDelta << g.lgDelta)
		classes[idx] = Class{BlockSize: blockSize}
	}

	for idx := 1; idx < NumClasses; idx++ {
		c := &classes[idx]
		unit := lcmPageAligned(c.BlockSize)
		want := roundUpPage(targetAPF * c.BlockSize)

		sbSize := unit
		for sbSize < want {
			sbSize += unit
		}
		c.SBSize = sbSize
		c.BlockNum = c.SBSize / c.BlockSize
		c.CacheBlockNum = c.BlockNum
		if c.BlockNum == 0 {
			panic(fmt.Sprintf("sizeclass: class %d has zero blocks per super-block", idx))
		}
		if c.BlockNum >= 1<<30 {
			panic(fmt.Sprintf("sizeclass: class %d block_num %d does not fit the anchor's 30-bit avail field", idx, c.BlockNum))
		}
	}

	MaxSize = classes[NumClasses-1].BlockSize

	lookup = make([]uint8, MaxSize+1)
	li := 0
	for idx := 1; idx < NumClasses; idx++ {
		bs := classes[idx].BlockSize
		for uint32(li) <= bs {
			lookup[li] = uint8(idx)
			li++
		}
	}
}

// Of returns the static class data for a class index (1..NumClasses-1).
func Of(index int) Class {
	return classes[index]
}

// Lookup returns the class index for a request size, or 0 if size exceeds
// MaxSize (meaning: serve as a direct large allocation).
func Lookup(size uintptr) int {
	if size == 0 {
		size = 1
	}
	if uint32(size) > MaxSize || size > uintptr(MaxSize) {
		return 0
	}
	return int(lookup[size])
}
