// File: internal/concurrency/spinlock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contention-friendly spin lock with try-lock semantics. Readers of the
// timer heap only ever TryLock; writers take the full Lock with a bounded
// spin before yielding the processor.

package concurrency

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a CAS spin lock. The zero value is unlocked.
type SpinLock struct {
	state atomic.Uint32
}

// TryLock acquires the lock without spinning. Returns false when the lock
// is held by another thread.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Lock spins up to spinCnt acquisition attempts before yielding, then
// repeats until the lock is held. spinCnt below 1 is treated as 1.
func (l *SpinLock) Lock(spinCnt int) {
	if spinCnt < 1 {
		spinCnt = 1
	}
	for {
		for i := 0; i < spinCnt; i++ {
			if l.state.CompareAndSwap(0, 1) {
				return
			}
		}
		runtime.Gosched()
	}
}

// Unlock releases the lock.
func (l *SpinLock) Unlock() {
	l.state.Store(0)
}
