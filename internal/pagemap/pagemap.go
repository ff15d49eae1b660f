// Package pagemap is the O(1) address -> descriptor index described in
// spec §3/§4.9/§9. It never sees a *descriptor.Descriptor directly — that
// would make this package depend on descriptor, which depends on segment,
// which this package also uses, so pagemap trades in raw, pre-tagged
// uintptr ("cookies") and leaves encoding/decoding the pointer + size-class
// bits to the caller (internal/cache).
//
// A cookie is a descriptor's address, which is guaranteed cache-line
// (64-byte) aligned (the descriptor pool places every descriptor on a
// 64-byte boundary), with a size
// class index (0..39, 6 bits) packed into the low bits. Zero means "no
// descriptor registered for this page".
package pagemap

import (
	"sync"
	"sync/atomic"

	"github.com/cacheline/apfalloc/internal/segment"
)

// pageBits is the addressing granularity: one entry per segment.PageSize
// bytes (spec §3: "8 KiB-aligned address").
const pageBits = 13

// keyBits sizes the flat table to cover 2^41 bytes of address space (spec
// §9's address-space budget), i.e. 2^(41-pageBits) entries.
const keyBits = 41 - pageBits

const keyMask = uint64(1)<<keyBits - 1

// ScMask is the bit-mask reserved for the size-class index packed into the
// low bits of a descriptor pointer; descriptors must be aligned so that
// addr &^ ScMask == addr.
const ScMask = uint64(0x3f)

type entry struct {
	cookie atomic.Uintptr
}

// PageMap is the global address -> descriptor cookie table. The zero value
// is not usable; call Init once before any Get/Set/Clear.
type PageMap struct {
	once  sync.Once
	table []entry
}

var global PageMap

// Init reserves the backing table. Safe to call more than once; only the
// first call has effect. Panics if the reservation fails — without a page
// map the allocator cannot free anything, so there is no degraded mode to
// fall back to.
func Init() {
	global.init()
}

func (pm *PageMap) init() {
	pm.once.Do(func() {
		n := uint64(1) << keyBits
		seg, err := segment.AllocateMassive(uintptr(n) * entrySize)
		if err != nil {
			panic("pagemap: failed to reserve backing table: " + err.Error())
		}
		pm.table = unsafeEntries(seg.Addr, int(n))
	})
}

func key(addr uintptr) uint64 {
	return (uint64(addr) >> pageBits) & keyMask
}

// Get returns the cookie registered for the page containing addr, or 0 if
// none. Wait-free (spec §5: "reads are lock-free").
func Get(addr uintptr) uintptr {
	return global.table[key(addr)].cookie.Load()
}

// Set registers cookie for the single page containing addr.
func Set(addr uintptr, cookie uintptr) {
	global.table[key(addr)].cookie.Store(cookie)
}

// SetRange registers cookie for every page in [addr, addr+length), used
// when a super-block spanning multiple pages is handed a descriptor (spec
// §4.4 step "register the descriptor in the page map over the
// super-block's range").
func SetRange(addr, length uintptr, cookie uintptr) {
	start := addr &^ (segment.PageSize - 1)
	end := (addr + length + segment.PageSize - 1) &^ (segment.PageSize - 1)
	for p := start; p < end; p += segment.PageSize {
		Set(p, cookie)
	}
}

// ClearRange unregisters every page in [addr, addr+length), used when a
// descriptor's super-block is retired (spec §4.4 step "unregister the
// descriptor from the page map and return its super-block").
func ClearRange(addr, length uintptr) {
	SetRange(addr, length, 0)
}
