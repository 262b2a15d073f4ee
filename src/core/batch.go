package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// batchHeaderSize is count[4] | timestampMs[8] | merkleRoot[32]
const batchHeaderSize = 4 + 8 + 32

// BatchProof aggregates compact proofs under one Merkle root
type BatchProof struct {
	Count      int            `json:"count"`
	Proofs     []CompactProof `json:"proofs"`
	MerkleRoot string         `json:"merkleRoot"`
	Timestamp  int64          `json:"timestamp"`
}

// NewBatchProof aggregates proofs in order under their proof-hash root
func NewBatchProof(proofs []CompactProof, timestampMs int64) (*BatchProof, error) {
	fragments := make([][]byte, len(proofs))
	for i := range proofs {
		fragments[i] = proofs[i].ProofHash[:]
	}
	root, err := AggregateRoot(fragments)
	if err != nil {
		return nil, err
	}
	return &BatchProof{
		Count:      len(proofs),
		Proofs:     proofs,
		MerkleRoot: hex.EncodeToString(root[:]),
		Timestamp:  timestampMs,
	}, nil
}

// VerifyRoot recomputes the aggregate root from the proof list
func (b *BatchProof) VerifyRoot() bool {
	if b.Count != len(b.Proofs) {
		return false
	}
	fragments := make([][]byte, len(b.Proofs))
	for i := range b.Proofs {
		fragments[i] = b.Proofs[i].ProofHash[:]
	}
	root, err := AggregateRoot(fragments)
	if err != nil {
		return false
	}
	return hex.EncodeToString(root[:]) == b.MerkleRoot
}

// MarshalBinary implements encoding.BinaryMarshaler
func (b *BatchProof) MarshalBinary() ([]byte, error) {
	if b.Count != len(b.Proofs) {
		return nil, fmt.Errorf("%w: count %d does not match %d proofs", ErrMalformedBatch, b.Count, len(b.Proofs))
	}
	root, err := hex.DecodeString(b.MerkleRoot)
	if err != nil || len(root) != 32 {
		return nil, fmt.Errorf("%w: merkle root must be 32 hex-encoded bytes", ErrMalformedBatch)
	}

	out := make([]byte, 0, batchHeaderSize+len(b.Proofs)*CompactProofSize)
	out = binary.BigEndian.AppendUint32(out, uint32(b.Count))
	out = binary.BigEndian.AppendUint64(out, uint64(b.Timestamp))
	out = append(out, root...)
	for i := range b.Proofs {
		out = b.Proofs[i].AppendBinary(out)
	}
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (b *BatchProof) UnmarshalBinary(data []byte) error {
	if len(data) < batchHeaderSize {
		return fmt.Errorf("%w: short header", ErrMalformedBatch)
	}
	count := int(binary.BigEndian.Uint32(data[0:4]))
	body := data[batchHeaderSize:]
	if len(body) != count*CompactProofSize {
		return fmt.Errorf("%w: expected %d proofs, body holds %d bytes", ErrMalformedBatch, count, len(body))
	}

	proofs := make([]CompactProof, count)
	for i := range proofs {
		if err := proofs[i].UnmarshalBinary(body[i*CompactProofSize : (i+1)*CompactProofSize]); err != nil {
			return fmt.Errorf("%w: proof %d: %v", ErrMalformedBatch, i, err)
		}
	}

	b.Count = count
	b.Timestamp = int64(binary.BigEndian.Uint64(data[4:12]))
	b.MerkleRoot = hex.EncodeToString(data[12:44])
	b.Proofs = proofs
	return nil
}

// CompressedBatch is the zstd-compressed wire form of a BatchProof
type CompressedBatch struct {
	Data           []byte  `json:"-"`
	OriginalSize   int     `json:"originalSize"`
	CompressedSize int     `json:"compressedSize"`
	Ratio          float64 `json:"ratio"`
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

// zstdCodecs lazily creates the shared encoder and decoder; both are safe
// for concurrent EncodeAll/DecodeAll calls
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

// CompressBatch serializes and compresses a batch
func CompressBatch(b *BatchProof) (*CompressedBatch, error) {
	raw, err := b.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize batch: %w", err)
	}
	enc, _, err := zstdCodecs()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	data := enc.EncodeAll(raw, make([]byte, 0, len(raw)))
	return &CompressedBatch{
		Data:           data,
		OriginalSize:   len(raw),
		CompressedSize: len(data),
		Ratio:          float64(len(data)) / float64(len(raw)),
	}, nil
}

// DecompressBatch reverses CompressBatch
func DecompressBatch(c *CompressedBatch) (*BatchProof, error) {
	_, dec, err := zstdCodecs()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	raw, err := dec.DecodeAll(c.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress batch: %w", err)
	}

	var b BatchProof
	if err := b.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return &b, nil
}
