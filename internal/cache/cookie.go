package cache

import (
	"unsafe"

	"github.com/cacheline/apfalloc/internal/descriptor"
	"github.com/cacheline/apfalloc/internal/pagemap"
)

// CookieFor packs a descriptor pointer and its size class index into the
// page map's cookie representation (spec §3: PageInfo is "descriptor
// pointer ∪ size-class index").
func CookieFor(desc *descriptor.Descriptor, sizeClassIndex int) uintptr {
	ptr := uintptr(unsafe.Pointer(desc))
	if ptr&uintptr(pagemap.ScMask) != 0 {
		panic("cache: descriptor not cache-line aligned")
	}
	return ptr | uintptr(sizeClassIndex)
}

// decodeCookie reverses CookieFor. Returns (nil, 0) for the zero cookie.
func decodeCookie(cookie uintptr) (*descriptor.Descriptor, int) {
	if cookie == 0 {
		return nil, 0
	}
	sc := int(cookie & uintptr(pagemap.ScMask))
	ptr := cookie &^ uintptr(pagemap.ScMask)
	return (*descriptor.Descriptor)(unsafe.Pointer(ptr)), sc
}

// Lookup resolves ptr to the size class and block size of the super-block
// that owns it, via the page map. Used by free()/realloc() to recover a
// pointer's size class without the caller tracking it separately (spec
// §4.7).
func Lookup(ptr uintptr) (sizeClassIndex int, blockSize uint32, ok bool) {
	desc, sc := decodeCookie(pagemap.Get(ptr))
	if desc == nil {
		return 0, 0, false
	}
	return sc, desc.BlockSize, true
}

// LookupDescriptor is Lookup's variant for the large-allocation and
// aligned-allocation paths (spec §9 "Large allocations"), which need the
// descriptor itself to recover SuperBlock/SuperBlockLen for deallocation
// rather than just a size class.
func LookupDescriptor(ptr uintptr) *descriptor.Descriptor {
	desc, _ := decodeCookie(pagemap.Get(ptr))
	return desc
}
