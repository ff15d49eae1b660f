// Package spinlock provides a small, allocation-free mutual exclusion
// primitive for the rare, short critical sections in the allocator's
// cold paths: the descriptor pool, segment (de)allocation, and the
// bootstrap arena. None of these run on the malloc/free
// fast path.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is a non-reentrant, ticketless spinlock. Zero value is unlocked.
type Spinlock struct {
	held atomic.Bool
}

// Lock spins until the lock is acquired, yielding the P between attempts
// so a contended lock doesn't starve the holder on a single-core machine.
func (s *Spinlock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Unlock releases the lock. Unlocking an unlocked Spinlock is a bug in the
// caller and is not detected.
func (s *Spinlock) Unlock() {
	s.held.Store(false)
}

// TryLock attempts to acquire the lock without spinning.
func (s *Spinlock) TryLock() bool {
	return s.held.CompareAndSwap(false, true)
}
