package heap

import (
	"unsafe"

	"github.com/cacheline/apfalloc/internal/descriptor"
)

func descPtr(d *descriptor.Descriptor) uintptr {
	return uintptr(unsafe.Pointer(d))
}
