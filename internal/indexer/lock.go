package indexer

import (
	"errors"
	"sync/atomic"
)

// ErrMaintenanceInProgress is returned when a backfill, rebuild or prune is
// started while another one is running
var ErrMaintenanceInProgress = errors.New("maintenance already in progress")

// IndexLock is a non-blocking mutual exclusion flag for maintenance runs
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a maintenance run currently holds the lock
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}
