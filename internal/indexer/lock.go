package indexer

import "sync/atomic"

// IngestLock is a non-blocking single-run guard
type IngestLock struct {
	state atomic.Int32 // 0 = free, 1 = held
}

// TryAcquire takes the lock if it is free
func (l *IngestLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *IngestLock) Release() {
	l.state.Store(0)
}

// Held reports whether an ingest is running
func (l *IngestLock) Held() bool {
	return l.state.Load() == 1
}
