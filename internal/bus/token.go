// Package bus provides the ownership token for the shared half-duplex line.
//
// At most one of the DMX scheduler, the RDM transaction engine and the
// discovery engine may transmit at any instant. The transmitting side
// acquires the token and releases it on every exit path; the scheduler only
// observes it and skips its slot instead of blocking.
package bus

import "sync/atomic"

// Token is the single bus-ownership flag.
type Token struct {
	held atomic.Bool
}

// TryAcquire claims the bus. It never blocks; false means somebody else
// currently owns the line.
func (t *Token) TryAcquire() bool {
	return t.held.CompareAndSwap(false, true)
}

// Release returns the bus. Safe to call only by the current owner.
func (t *Token) Release() {
	t.held.Store(false)
}

// Busy reports whether the bus is currently owned.
func (t *Token) Busy() bool {
	return t.held.Load()
}
