//go:build windows

package segment

import (
	"golang.org/x/sys/windows"
)

// On Windows, spec §4.1 calls for "a private heap + VirtualAlloc for massive
// reservations." We use VirtualAlloc directly for both: MEM_COMMIT for
// regular segments (backed immediately) and MEM_RESERVE only, committed
// lazily page-by-page, for the massive page-map reservation.
func platformAllocate(size uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func platformAllocateMassive(size uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func platformFree(addr, size uintptr) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func platformTouch(addr, length uintptr) error {
	_, err := windows.VirtualAlloc(addr, length, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}
