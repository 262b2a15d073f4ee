package main

import (
	"crypto/sha256"
	"sync"
)

// MerkleCache keeps the most recent rolling roots, oldest first
type MerkleCache struct {
	mu       sync.RWMutex
	capacity int
	roots    [][32]byte
}

// NewMerkleCache creates a cache holding at most capacity roots
func NewMerkleCache(capacity int) *MerkleCache {
	if capacity < 1 {
		capacity = DefaultMerkleCacheSize
	}
	return &MerkleCache{capacity: capacity, roots: make([][32]byte, 0, capacity)}
}

// ChainRoot folds leaf into the rolling root: H(last || leaf), or H(leaf)
// when the cache is empty
func (m *MerkleCache) ChainRoot(leaf []byte) [32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var root [32]byte
	if n := len(m.roots); n > 0 {
		h := sha256.New()
		h.Write(m.roots[n-1][:])
		h.Write(leaf)
		copy(root[:], h.Sum(nil))
	} else {
		root = sha256.Sum256(leaf)
	}

	m.push(root)
	return root
}

func (m *MerkleCache) push(root [32]byte) {
	if len(m.roots) == m.capacity {
		copy(m.roots, m.roots[1:])
		m.roots = m.roots[:len(m.roots)-1]
	}
	m.roots = append(m.roots, root)
}

// Seed restores a previously persisted root as the chain head
func (m *MerkleCache) Seed(root [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(root)
}

// Last returns the newest root
func (m *MerkleCache) Last() ([32]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.roots) == 0 {
		return [32]byte{}, false
	}
	return m.roots[len(m.roots)-1], true
}

// Len returns the number of cached roots
func (m *MerkleCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.roots)
}

// Cap returns the cache capacity
func (m *MerkleCache) Cap() int {
	return m.capacity
}

// AggregateRoot computes a binary Merkle root over SHA-256 leaves of the
// ordered fragments, duplicating the last node on odd levels
func AggregateRoot(fragments [][]byte) ([32]byte, error) {
	if len(fragments) == 0 {
		return [32]byte{}, ErrEmptyBatch
	}

	level := make([][32]byte, len(fragments))
	for i, f := range fragments {
		level[i] = sha256.Sum256(f)
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i][:])
			h.Write(level[i+1][:])
			copy(next[i/2][:], h.Sum(nil))
		}
		level = next
	}
	return level[0], nil
}
