package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ConfirmationSize is nodeID[4] | valid[1] | proofHash[8] | timestampMs[6] | score[1] | flags[1]
const ConfirmationSize = 21

const confirmationTimestampMask = 1<<48 - 1

// Confirmation is the compact acknowledgement a node returns for a validation
type Confirmation [ConfirmationSize]byte

// GetCompactConfirmation packs a validation result into a Confirmation.
// A rejected result carries a zero proof hash and a cleared valid byte.
func (n *ValidationNode) GetCompactConfirmation(result *ValidationResult) Confirmation {
	var c Confirmation
	fragment := n.IDFragment()
	copy(c[0:4], fragment[:])

	a := result.Offchain
	ts := a.AnalyzedAt
	flags := EncodeFlags(a)
	if a.Proof.Scheme == "" {
		// integrity checks never ran
		flags &^= FlagEncryptionInvalid | FlagProofInvalid
	}

	if p := result.Onchain; p != nil {
		if p.Valid() {
			c[4] = 1
		}
		copy(c[5:13], p.ProofHash[:])
		ts = p.Timestamp
		flags = p.Flags
	}

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts)&confirmationTimestampMask)
	copy(c[13:19], tsBuf[2:])
	c[19] = a.Threat.Score
	c[20] = flags
	return c
}

// NodeFragment returns the first four bytes of the issuing node ID
func (c Confirmation) NodeFragment() [4]byte {
	var out [4]byte
	copy(out[:], c[0:4])
	return out
}

// Valid reports the valid byte
func (c Confirmation) Valid() bool {
	return c[4] == 1
}

// ProofHash returns the proof hash fragment
func (c Confirmation) ProofHash() [8]byte {
	var out [8]byte
	copy(out[:], c[5:13])
	return out
}

// Timestamp returns the 48-bit millisecond timestamp
func (c Confirmation) Timestamp() int64 {
	var tsBuf [8]byte
	copy(tsBuf[2:], c[13:19])
	return int64(binary.BigEndian.Uint64(tsBuf[:]))
}

// ThreatScore returns the score byte
func (c Confirmation) ThreatScore() uint8 {
	return c[19]
}

// Flags returns the flag byte
func (c Confirmation) Flags() byte {
	return c[20]
}

// Hex returns the confirmation as a hex string
func (c Confirmation) Hex() string {
	return hex.EncodeToString(c[:])
}

// ParseConfirmation decodes a hex confirmation
func ParseConfirmation(s string) (Confirmation, error) {
	var c Confirmation
	raw, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if len(raw) != ConfirmationSize {
		return c, fmt.Errorf("%w: confirmation is %d bytes, want %d", ErrMalformedProof, len(raw), ConfirmationSize)
	}
	copy(c[:], raw)
	return c, nil
}
