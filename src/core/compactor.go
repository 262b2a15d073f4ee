package main

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// CompactProofSize is the fixed wire size of a CompactProof:
// proofHash[8] | timestampMs[8] | merkleRoot[8] | flags[1] | score[1] | validity[1]
const CompactProofSize = 27

// Flag bits, bits 6 and 7 are reserved
const (
	FlagVelocity          byte = 1 << 0
	FlagReplay            byte = 1 << 1
	FlagPattern           byte = 1 << 2
	FlagSpike             byte = 1 << 3
	FlagEncryptionInvalid byte = 1 << 4
	FlagProofInvalid      byte = 1 << 5
)

const (
	validityProof      byte = 1 << 0
	validityEncryption byte = 1 << 1
)

var flagNames = []struct {
	bit  byte
	name string
}{
	{FlagVelocity, "velocity"},
	{FlagReplay, "replay"},
	{FlagPattern, "pattern"},
	{FlagSpike, "spike"},
	{FlagEncryptionInvalid, "encryption_invalid"},
	{FlagProofInvalid, "proof_invalid"},
}

// CompactProof is the only representation of a validation sent on-chain
type CompactProof struct {
	ProofHash       [8]byte
	Timestamp       int64
	MerkleRoot      [8]byte
	Flags           byte
	ThreatScore     uint8
	ProofValid      bool
	EncryptionValid bool
}

// Valid reports whether both the proof and the encryption checked out
func (p *CompactProof) Valid() bool {
	return p.ProofValid && p.EncryptionValid
}

// AppendBinary appends the wire form of p to b
func (p *CompactProof) AppendBinary(b []byte) []byte {
	b = append(b, p.ProofHash[:]...)
	b = binary.BigEndian.AppendUint64(b, uint64(p.Timestamp))
	b = append(b, p.MerkleRoot[:]...)
	b = append(b, p.Flags, p.ThreatScore)

	var validity byte
	if p.ProofValid {
		validity |= validityProof
	}
	if p.EncryptionValid {
		validity |= validityEncryption
	}
	return append(b, validity)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p *CompactProof) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, CompactProofSize)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *CompactProof) UnmarshalBinary(data []byte) error {
	if len(data) != CompactProofSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedProof, CompactProofSize, len(data))
	}
	validity := data[26]
	if validity&^(validityProof|validityEncryption) != 0 {
		return fmt.Errorf("%w: unknown validity bits %08b", ErrMalformedProof, validity)
	}

	copy(p.ProofHash[:], data[0:8])
	p.Timestamp = int64(binary.BigEndian.Uint64(data[8:16]))
	copy(p.MerkleRoot[:], data[16:24])
	p.Flags = data[24]
	p.ThreatScore = data[25]
	p.ProofValid = validity&validityProof != 0
	p.EncryptionValid = validity&validityEncryption != 0
	return nil
}

// MarshalJSON renders the byte fields as hex
func (p CompactProof) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"proofHash":       hex.EncodeToString(p.ProofHash[:]),
		"timestamp":       p.Timestamp,
		"merkleRoot":      hex.EncodeToString(p.MerkleRoot[:]),
		"flags":           FlagNames(p.Flags),
		"threatScore":     p.ThreatScore,
		"proofValid":      p.ProofValid,
		"encryptionValid": p.EncryptionValid,
	})
}

// EncodeFlags packs the anomaly and validity results into one byte
func EncodeFlags(a *OffchainAnalysis) byte {
	var flags byte
	if a.Velocity.Detected {
		flags |= FlagVelocity
	}
	if a.Replay.Detected {
		flags |= FlagReplay
	}
	if a.Pattern.Detected {
		flags |= FlagPattern
	}
	if a.Spike.Detected {
		flags |= FlagSpike
	}
	if !a.Encryption.Valid {
		flags |= FlagEncryptionInvalid
	}
	if !a.Proof.Valid {
		flags |= FlagProofInvalid
	}
	return flags
}

// FlagNames lists the set flags in bit order
func FlagNames(flags byte) []string {
	names := []string{}
	for _, f := range flagNames {
		if flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// ProofCompactor turns a full analysis into a CompactProof chained into
// the rolling Merkle cache
type ProofCompactor struct {
	merkle *MerkleCache
}

// NewProofCompactor creates a compactor with a rolling cache of cacheSize roots
func NewProofCompactor(cacheSize int) *ProofCompactor {
	return &ProofCompactor{merkle: NewMerkleCache(cacheSize)}
}

// Merkle exposes the rolling root cache
func (c *ProofCompactor) Merkle() *MerkleCache {
	return c.merkle
}

// BuildCompactProof chains digest into the rolling root and packs the record
func (c *ProofCompactor) BuildCompactProof(digest [32]byte, a *OffchainAnalysis, ts time.Time) *CompactProof {
	root := c.merkle.ChainRoot(digest[:])

	p := &CompactProof{
		Timestamp:       ts.UnixMilli(),
		Flags:           EncodeFlags(a),
		ThreatScore:     a.Threat.Score,
		ProofValid:      a.Proof.Valid,
		EncryptionValid: a.Encryption.Valid,
	}
	copy(p.ProofHash[:], digest[:8])
	copy(p.MerkleRoot[:], root[:8])
	return p
}
