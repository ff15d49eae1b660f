package apfalloc

import "github.com/pkg/errors"

// Error kinds per spec §7. Kinds 1 (OS-refused allocation) and 2 (invalid
// argument) are caught at every public entry point and turned into a null
// pointer and are never returned to callers. The two sentinels below name
// these kinds; no code path returns or wraps either of them.
var (
	// errOSRefused wraps internal/segment failures (spec §7 kind 1).
	errOSRefused = errors.New("apfalloc: operating system refused the allocation")

	// errInvalidArgument covers aligned_alloc with a non-power-of-two
	// alignment and realloc on a pointer this allocator does not own
	// (spec §7 kind 2).
	errInvalidArgument = errors.New("apfalloc: invalid argument")
)

// fatal reports an internal invariant violation (spec §7 kind 3): anchor
// decoding out of range, a live pointer with no page-map entry, a
// descriptor counter underflow. These are unrecoverable — continuing would
// silently corrupt the heap — so the process aborts via panic.
func fatal(msg string) {
	panic(errors.Wrap(errInvariantViolation, msg))
}

var errInvariantViolation = errors.New("apfalloc: internal invariant violation")
