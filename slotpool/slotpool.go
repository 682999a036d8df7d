// Package slotpool is a bounded slot manager for tools that tolerate only a
// fixed number of live instances per host. Acquire blocks until a slot
// frees up or the context ends; blocked acquirers are served in FIFO
// arrival order. Each slot has a stable index so callers can pin per-slot
// state (a renderer user-profile directory, for instance) to it.
package slotpool

import "context"

// Slot is a held pool slot. Return it with Release when the invocation is
// done, on every path including timeout and cancellation.
type Slot struct {
	Index int
}

// Pool hands out up to size slots.
type Pool struct {
	slots chan Slot
	size  int
}

// New creates a pool with n slots. n < 1 is treated as 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{slots: make(chan Slot, n), size: n}
	for i := 0; i < n; i++ {
		p.slots <- Slot{Index: i}
	}
	return p
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Slot, error) {
	select {
	case s := <-p.slots:
		return s, nil
	case <-ctx.Done():
		return Slot{}, ctx.Err()
	}
}

// TryAcquire grabs a slot without blocking; ok is false when none is free.
func (p *Pool) TryAcquire() (Slot, bool) {
	select {
	case s := <-p.slots:
		return s, true
	default:
		return Slot{}, false
	}
}

// Release returns a slot to the pool. Releasing a slot that was never
// acquired corrupts the bound; don't.
func (p *Pool) Release(s Slot) {
	p.slots <- s
}

// Size returns the configured slot count.
func (p *Pool) Size() int { return p.size }

// InUse returns how many slots are currently held.
func (p *Pool) InUse() int { return p.size - len(p.slots) }
