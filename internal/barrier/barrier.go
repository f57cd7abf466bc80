// Package barrier implements a reusable cyclic rendezvous point whose
// participant count can change between generations.
package barrier

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMisuse is the panic value for a zero participant count. It signals a
// broken invariant in the caller, not a runtime condition.
var ErrMisuse = errors.New("barrier: participant count must be positive")

// Barrier blocks callers of Wait until the configured number of them have
// arrived in the current generation, then releases them all at once.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	threshold  uint
	count      uint
	generation uint64
}

// New creates a barrier that releases after n arrivals. It panics if n is 0.
func New(n uint) *Barrier {
	if n == 0 {
		panic(fmt.Errorf("new: %w", ErrMisuse))
	}
	b := &Barrier{threshold: n, count: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until the current generation is released. It returns true
// only to the caller whose arrival triggered the release.
func (b *Barrier) Wait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.count--
	if b.count == 0 {
		b.releaseLocked()
		return true
	}
	for gen == b.generation {
		b.cond.Wait()
	}
	return false
}

// SetCount reconfigures the participant count. Arrivals already parked in
// the current generation are kept: if they already meet n, one more arrival
// is required before the release. It panics if n is 0.
func (b *Barrier) SetCount(n uint) {
	if n == 0 {
		panic(fmt.Errorf("set count: %w", ErrMisuse))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	used := b.threshold - b.count
	if used >= n {
		b.count = 1
	} else {
		b.count = n - used
	}
	b.threshold = n
}

// NotifyAll releases every waiter and starts a new generation without
// requiring the remaining arrivals.
func (b *Barrier) NotifyAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
}

func (b *Barrier) releaseLocked() {
	b.generation++
	b.count = b.threshold
	b.cond.Broadcast()
}

// Threshold returns the configured participant count.
func (b *Barrier) Threshold() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold
}

// Count returns how many arrivals are still needed for a release.
func (b *Barrier) Count() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Used returns how many callers are parked in the current generation.
func (b *Barrier) Used() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold - b.count
}

// Generation returns the number of releases so far.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}
