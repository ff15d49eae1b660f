//go:build unix

package segment

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func platformAllocate(size uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

// platformAllocateMassive reserves address space with MAP_NORESERVE where
// available so the kernel does not pre-commit swap/overcommit accounting
// for the whole (very large) page-map table; pages are backed on first
// touch either way.
func platformAllocateMassive(size uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE|mapNoReserve)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

func platformFree(addr, size uintptr) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	return unix.Munmap(b)
}

func platformTouch(addr, length uintptr) error {
	return nil
}
