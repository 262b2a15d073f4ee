package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const journalDirname = "proofs.ldb"

var (
	journalProofPrefix = []byte("p")
	journalRootKey     = []byte("m:root")
)

// ProofJournal appends every stored compact proof to LevelDB so the
// on-chain store and the rolling root survive a restart. Only the newest
// retain proofs are kept on disk.
type ProofJournal struct {
	db     *leveldb.DB
	seq    atomic.Uint64
	retain uint64
}

// OpenProofJournal opens or creates the journal at path, keeping at most retain proofs
func OpenProofJournal(path string, retain int) (*ProofJournal, error) {
	if retain < 1 {
		return nil, fmt.Errorf("journal retention must be positive, got %d", retain)
	}
	db, err := leveldb.OpenFile(path, &opt.Options{NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open proof journal: %w", err)
	}

	j := &ProofJournal{db: db, retain: uint64(retain)}
	iter := db.NewIterator(util.BytesPrefix(journalProofPrefix), nil)
	if iter.Last() {
		j.seq.Store(binary.BigEndian.Uint64(iter.Key()[len(journalProofPrefix):]))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to scan proof journal: %w", err)
	}
	if err := j.pruneBelow(j.firstRetained(j.seq.Load())); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// firstRetained is the lowest sequence kept once seq is the newest
func (j *ProofJournal) firstRetained(seq uint64) uint64 {
	if seq <= j.retain {
		return 1
	}
	return seq - j.retain + 1
}

// pruneBelow deletes every proof with a sequence lower than first
func (j *ProofJournal) pruneBelow(first uint64) error {
	batch := new(leveldb.Batch)
	iter := j.db.NewIterator(&util.Range{Start: journalKey(0), Limit: journalKey(first)}, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan proof journal: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := j.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to prune proof journal: %w", err)
	}
	return nil
}

func journalKey(seq uint64) []byte {
	key := make([]byte, 0, len(journalProofPrefix)+8)
	key = append(key, journalProofPrefix...)
	return binary.BigEndian.AppendUint64(key, seq)
}

// Append writes proof and the new rolling root in one batch, dropping the
// proof that falls out of the retention window
func (j *ProofJournal) Append(proof *CompactProof, root [32]byte) error {
	value, err := proof.MarshalBinary()
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	next := j.seq.Load() + 1
	batch.Put(journalKey(next), value)
	batch.Put(journalRootKey, root[:])
	if next > j.retain {
		batch.Delete(journalKey(next - j.retain))
	}
	if err := j.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to append proof: %w", err)
	}
	j.seq.Store(next)
	return nil
}

// Recent returns the newest proofs whose total size fits maxBytes, oldest first
func (j *ProofJournal) Recent(maxBytes int) ([]CompactProof, error) {
	var newestFirst []CompactProof
	total := 0

	iter := j.db.NewIterator(util.BytesPrefix(journalProofPrefix), nil)
	for ok := iter.Last(); ok && total+CompactProofSize <= maxBytes; ok = iter.Prev() {
		var p CompactProof
		if err := p.UnmarshalBinary(iter.Value()); err != nil {
			iter.Release()
			return nil, err
		}
		newestFirst = append(newestFirst, p)
		total += CompactProofSize
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to read proof journal: %w", err)
	}

	out := make([]CompactProof, len(newestFirst))
	for i, p := range newestFirst {
		out[len(out)-1-i] = p
	}
	return out, nil
}

// LastRoot returns the rolling root recorded with the newest proof
func (j *ProofJournal) LastRoot() ([32]byte, bool, error) {
	var root [32]byte
	value, err := j.db.Get(journalRootKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return root, false, nil
	}
	if err != nil {
		return root, false, fmt.Errorf("failed to read rolling root: %w", err)
	}
	if len(value) != len(root) {
		return root, false, fmt.Errorf("corrupt rolling root: %d bytes", len(value))
	}
	copy(root[:], value)
	return root, true, nil
}

// Retained returns the number of proofs currently on disk
func (j *ProofJournal) Retained() int {
	seq := j.seq.Load()
	if seq == 0 {
		return 0
	}
	return int(seq - j.firstRetained(seq) + 1)
}

// Len returns the number of proofs ever journaled
func (j *ProofJournal) Len() uint64 {
	return j.seq.Load()
}

// Close releases the database
func (j *ProofJournal) Close() error {
	return j.db.Close()
}
