package main

import "sync"

// fifo is a slice-backed queue that compacts once half its backing array is dead
type fifo[T any] struct {
	items []T
	head  int
}

func (q *fifo[T]) push(v T) {
	q.items = append(q.items, v)
}

func (q *fifo[T]) pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

func (q *fifo[T]) len() int {
	return len(q.items) - q.head
}

// snapshot returns the live items, oldest first
func (q *fifo[T]) snapshot() []T {
	out := make([]T, q.len())
	copy(out, q.items[q.head:])
	return out
}

type sized[T any] struct {
	value T
	size  int
}

// ByteBoundedStore keeps entries oldest-first and evicts from the front
// whenever an insert would push the serialized total above the cap
type ByteBoundedStore[T any] struct {
	mu       sync.RWMutex
	capBytes int
	total    int
	entries  fifo[sized[T]]
	evicted  uint64
}

// NewByteBoundedStore creates a store capped at capBytes
func NewByteBoundedStore[T any](capBytes int) *ByteBoundedStore[T] {
	return &ByteBoundedStore[T]{capBytes: capBytes}
}

// Put inserts value with its serialized size, evicting the oldest entries
// as needed. It returns the number of evicted entries and false when the
// value alone exceeds the cap and was not stored.
func (s *ByteBoundedStore[T]) Put(value T, size int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if size > s.capBytes {
		return 0, false
	}

	evicted := 0
	for s.total+size > s.capBytes {
		old, ok := s.entries.pop()
		if !ok {
			break
		}
		s.total -= old.size
		evicted++
	}
	s.evicted += uint64(evicted)

	s.entries.push(sized[T]{value: value, size: size})
	s.total += size
	return evicted, true
}

// Entries returns the stored values, oldest first
func (s *ByteBoundedStore[T]) Entries() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw := s.entries.snapshot()
	out := make([]T, len(raw))
	for i, e := range raw {
		out[i] = e.value
	}
	return out
}

// Len returns the number of stored entries
func (s *ByteBoundedStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.len()
}

// Bytes returns the total serialized size held
func (s *ByteBoundedStore[T]) Bytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Cap returns the byte cap
func (s *ByteBoundedStore[T]) Cap() int {
	return s.capBytes
}

// Utilization is Bytes/Cap in [0,1]
func (s *ByteBoundedStore[T]) Utilization() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.capBytes == 0 {
		return 0
	}
	return float64(s.total) / float64(s.capBytes)
}

// Evicted returns the number of entries evicted so far
func (s *ByteBoundedStore[T]) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Archive is the bounded FIFO of off-chain analyses, indexed by tx hash
type Archive struct {
	mu       sync.RWMutex
	capacity int
	entries  fifo[*OffchainAnalysis]
	byHash   map[string]*OffchainAnalysis
}

// NewArchive creates an archive holding at most capacity analyses
func NewArchive(capacity int) *Archive {
	return &Archive{capacity: capacity, byHash: make(map[string]*OffchainAnalysis)}
}

// Add appends a, evicting the oldest entry beyond capacity.
// The hash index always points at the newest analysis for a hash.
func (a *Archive) Add(analysis *OffchainAnalysis) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries.push(analysis)
	a.byHash[analysis.TxHash] = analysis

	for a.entries.len() > a.capacity {
		old, _ := a.entries.pop()
		if a.byHash[old.TxHash] == old {
			delete(a.byHash, old.TxHash)
		}
	}
}

// Get returns the newest archived analysis for txHash
func (a *Archive) Get(txHash string) (*OffchainAnalysis, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.byHash[txHash]
	return v, ok
}

// Len returns the number of archived analyses
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.entries.len()
}

// Recent returns up to limit analyses, newest first, skipping offset
func (a *Archive) Recent(offset, limit int) []*OffchainAnalysis {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := a.entries.len()
	out := []*OffchainAnalysis{}
	for i := n - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.entries.items[a.entries.head+i])
	}
	return out
}
