// Package ident issues record identities and mutation sequence numbers.
package ident

import "sync/atomic"

// Allocator hands out strictly increasing int64 identities.
//
// Every call to Next returns a value one greater than any value previously
// returned or seeded, so an identity is never reused for the lifetime of the
// Allocator, even after the record holding it is deleted.
//
// After rehydrating from durable storage, Reseed with the durable high-water
// mark so that subsequent Next calls cannot collide with restored records or
// reissue the identity of one deleted before the restart.
//
// Thread-safety: Allocator is safe for concurrent use (atomic operations,
// no blocking).
type Allocator struct {
	last atomic.Int64
}

// NewAllocator creates an allocator whose first Next returns 1.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// NewAllocatorAt creates an allocator whose first Next returns last+1.
func NewAllocatorAt(last int64) *Allocator {
	a := &Allocator{}
	a.last.Store(last)
	return a
}

// Next returns the next identity.
// Calls are linearizable - each call returns a unique, increasing value.
func (a *Allocator) Next() int64 {
	return a.last.Add(1)
}

// Current returns the most recently issued (or seeded) identity.
func (a *Allocator) Current() int64 {
	return a.last.Load()
}

// Reseed raises the allocator so the next identity is at least max+1.
// It never moves the allocator backwards: reseeding below Current is a no-op.
func (a *Allocator) Reseed(max int64) {
	for {
		cur := a.last.Load()
		if max <= cur {
			return
		}
		if a.last.CompareAndSwap(cur, max) {
			return
		}
	}
}
