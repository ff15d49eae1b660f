//go:build linux

package segment

import "golang.org/x/sys/unix"

// On Linux we ask the kernel not to reserve swap/commit accounting for the
// page map's massive reservation; it is sparse by construction.
const mapNoReserve = unix.MAP_NORESERVE
