package main

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// WitnessPool is a bounded, insertion-ordered set of candidate witnesses
type WitnessPool struct {
	mu       sync.RWMutex
	capacity int
	entries  []Witness
}

// NewWitnessPool creates an empty pool holding at most capacity witnesses
func NewWitnessPool(capacity int) *WitnessPool {
	if capacity < 1 {
		capacity = DefaultWitnessPoolSize
	}
	return &WitnessPool{capacity: capacity}
}

// Add inserts a witness unless its address is already present.
// The oldest entry is evicted once the pool exceeds its capacity.
func (p *WitnessPool) Add(w Witness) (bool, error) {
	if w.Address == "" || !ValidateStringField(w.Address, MaxAddressLength) || ContainsWhitespace(w.Address) {
		return false, fmt.Errorf("%w: bad address", ErrInvalidWitness)
	}
	if w.Stake < 0 || w.Reputation < 0 || math.IsNaN(w.Stake) || math.IsNaN(w.Reputation) ||
		math.IsInf(w.Stake, 0) || math.IsInf(w.Reputation, 0) {
		return false, fmt.Errorf("%w: stake and reputation must be finite and non-negative", ErrInvalidWitness)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.entries {
		if existing.Address == w.Address {
			return false, nil
		}
	}

	p.entries = append(p.entries, w)
	if over := len(p.entries) - p.capacity; over > 0 {
		p.entries = append(p.entries[:0], p.entries[over:]...)
	}
	return true, nil
}

// Select picks a witness uniformly among entries that are neither sender
// nor receiver, falling back to self when none is eligible
func (p *WitnessPool) Select(sender, receiver, self string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	eligible := make([]string, 0, len(p.entries))
	for _, w := range p.entries {
		if w.Address != sender && w.Address != receiver {
			eligible = append(eligible, w.Address)
		}
	}
	if len(eligible) == 0 {
		return self
	}
	return eligible[rand.Intn(len(eligible))]
}

// List returns a copy of the pool, oldest first
func (p *WitnessPool) List() []Witness {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Witness, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len returns the number of witnesses in the pool
func (p *WitnessPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
