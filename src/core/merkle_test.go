package main

import (
	"crypto/sha256"
	"errors"
	"testing"
)

func TestMerkleCacheChainRoot(t *testing.T) {
	m := NewMerkleCache(3)

	if _, ok := m.Last(); ok {
		t.Error("Expected no root in an empty cache")
	}

	first := m.ChainRoot([]byte("a"))
	if first != sha256.Sum256([]byte("a")) {
		t.Error("Expected first root to be H(leaf)")
	}

	second := m.ChainRoot([]byte("b"))
	want := sha256.Sum256(append(first[:], 'b'))
	if second != want {
		t.Error("Expected second root to be H(last || leaf)")
	}

	if last, ok := m.Last(); !ok || last != second {
		t.Error("Expected Last to return the newest root")
	}
}

func TestMerkleCacheCapacity(t *testing.T) {
	m := NewMerkleCache(3)

	var roots [][32]byte
	for _, leaf := range []string{"a", "b", "c", "d", "e"} {
		roots = append(roots, m.ChainRoot([]byte(leaf)))
	}

	if m.Len() != 3 {
		t.Errorf("Expected 3 cached roots, got %d", m.Len())
	}
	if m.Cap() != 3 {
		t.Errorf("Expected capacity 3, got %d", m.Cap())
	}
	if last, _ := m.Last(); last != roots[4] {
		t.Error("Expected newest root retained after eviction")
	}
	if m.roots[0] != roots[2] {
		t.Error("Expected oldest roots evicted first")
	}
}

func TestMerkleCacheSeed(t *testing.T) {
	seeded := NewMerkleCache(10)
	fresh := NewMerkleCache(10)

	root := fresh.ChainRoot([]byte("a"))
	seeded.Seed(root)

	if seeded.ChainRoot([]byte("b")) != fresh.ChainRoot([]byte("b")) {
		t.Error("Expected a seeded cache to continue the chain")
	}
}

func TestMerkleCacheDefaultCapacity(t *testing.T) {
	if got := NewMerkleCache(0).Cap(); got != DefaultMerkleCacheSize {
		t.Errorf("Expected default capacity %d, got %d", DefaultMerkleCacheSize, got)
	}
}

func TestAggregateRoot(t *testing.T) {
	leaf := func(s string) [32]byte { return sha256.Sum256([]byte(s)) }
	node := func(l, r [32]byte) [32]byte { return sha256.Sum256(append(l[:], r[:]...)) }

	t.Run("empty", func(t *testing.T) {
		if _, err := AggregateRoot(nil); !errors.Is(err, ErrEmptyBatch) {
			t.Errorf("Expected ErrEmptyBatch, got %v", err)
		}
	})

	t.Run("single", func(t *testing.T) {
		root, err := AggregateRoot([][]byte{[]byte("a")})
		if err != nil {
			t.Fatalf("AggregateRoot failed: %v", err)
		}
		if root != leaf("a") {
			t.Error("Expected single-leaf root to be the leaf hash")
		}
	})

	t.Run("odd count duplicates last", func(t *testing.T) {
		root, err := AggregateRoot([][]byte{[]byte("a"), []byte("b"), []byte("c")})
		if err != nil {
			t.Fatalf("AggregateRoot failed: %v", err)
		}
		want := node(node(leaf("a"), leaf("b")), node(leaf("c"), leaf("c")))
		if root != want {
			t.Error("Expected odd level to duplicate the last node")
		}
	})

	t.Run("order matters", func(t *testing.T) {
		ab, _ := AggregateRoot([][]byte{[]byte("a"), []byte("b")})
		ba, _ := AggregateRoot([][]byte{[]byte("b"), []byte("a")})
		if ab == ba {
			t.Error("Expected different roots for different orders")
		}
		again, _ := AggregateRoot([][]byte{[]byte("a"), []byte("b")})
		if ab != again {
			t.Error("Expected deterministic root")
		}
	})
}
