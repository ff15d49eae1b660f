package pagemap

import "unsafe"

var entrySize = unsafe.Sizeof(entry{})

// unsafeEntries reinterprets a raw, zeroed mmap reservation as a slice of
// entry. This is sound because entry holds nothing but an
// atomic.Uintptr, which has no invariants beyond word alignment — the same
// reasoning that lets the descriptor pool carve descriptors out of raw
// segments.
func unsafeEntries(addr uintptr, n int) []entry {
	return unsafe.Slice((*entry)(unsafe.Pointer(addr)), n)
}
