package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"
)

const (
	partySecretLabel = "proofnode/party-secret"
	sessionKeyLabel  = "proofnode/session-key"
	proofTagLabel    = "proofnode/proof-tag"

	// ProofTagSize is the length of each per-party proof tag
	ProofTagSize = 16
	// IVSize is the XChaCha20-Poly1305 nonce length
	IVSize = chacha20poly1305.NonceSizeX

	partyCount = 3
)

// Encryption integrity issues
const (
	IssueMissingCiphertext = "missing_ciphertext"
	IssueMissingIV         = "missing_iv"
	IssueBadIVLength       = "bad_iv_length"
	IssueMissingProofTag   = "missing_proof_tag"
	IssueBadProofTagLength = "bad_proof_tag_length"
	IssueStale             = "stale_encryption"
	IssueSealFailed        = "seal_failed"
)

// Parties are the three addresses whose secrets bind an envelope
type Parties struct {
	Sender   string
	Receiver string
	Witness  string
}

func (p Parties) addresses() [partyCount]string {
	return [partyCount]string{p.Sender, p.Receiver, p.Witness}
}

// EncryptedEnvelope is the sealed transaction plus one proof tag per party
type EncryptedEnvelope struct {
	Ciphertext  []byte   `json:"ciphertext"`
	IV          []byte   `json:"iv"`
	ProofTags   [][]byte `json:"proofTags"`
	EncryptedAt int64    `json:"encryptedAt"`
}

// Encryptor seals a transaction for a set of parties
type Encryptor interface {
	Seal(tx *Transaction, parties Parties, now time.Time) (*EncryptedEnvelope, error)
}

// GodCypher derives a session key from three address-bound secrets and
// seals the transaction with XChaCha20-Poly1305, using the tx hash as AAD
type GodCypher struct {
	domain []byte
}

// NewGodCypher creates an encryptor bound to a shared domain constant
func NewGodCypher(domain string) *GodCypher {
	return &GodCypher{domain: []byte(domain)}
}

// kdf hashes the label followed by every part with SHA3-256
func kdf(label string, parts ...[]byte) []byte {
	h := sha3.New256()
	h.Write([]byte(label))
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (g *GodCypher) partySecret(address string) []byte {
	return kdf(partySecretLabel, g.domain, []byte(address))
}

// sessionKey combines the party secrets independent of their order
func (g *GodCypher) sessionKey(parties Parties) []byte {
	addrs := parties.addresses()
	secrets := make([][]byte, 0, partyCount)
	for _, a := range addrs {
		secrets = append(secrets, g.partySecret(a))
	}
	sort.Slice(secrets, func(i, j int) bool {
		return bytes.Compare(secrets[i], secrets[j]) < 0
	})
	return kdf(sessionKeyLabel, secrets...)
}

// ProofTag returns the tag identifying one party's participation
func (g *GodCypher) ProofTag(address string) []byte {
	return kdf(proofTagLabel, g.partySecret(address))[:ProofTagSize]
}

// Seal encrypts the JSON encoding of tx
func (g *GodCypher) Seal(tx *Transaction, parties Parties, now time.Time) (*EncryptedEnvelope, error) {
	plaintext, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	aead, err := chacha20poly1305.NewX(g.sessionKey(parties))
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	tags := make([][]byte, 0, partyCount)
	for _, a := range parties.addresses() {
		tags = append(tags, g.ProofTag(a))
	}

	return &EncryptedEnvelope{
		Ciphertext:  aead.Seal(nil, iv, plaintext, []byte(tx.Hash)),
		IV:          iv,
		ProofTags:   tags,
		EncryptedAt: now.UnixMilli(),
	}, nil
}

// Open recovers the transaction sealed for parties under txHash
func (g *GodCypher) Open(env *EncryptedEnvelope, parties Parties, txHash string) (*Transaction, error) {
	if len(env.IV) != IVSize {
		return nil, fmt.Errorf("bad iv size: need %d", IVSize)
	}
	aead, err := chacha20poly1305.NewX(g.sessionKey(parties))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.IV, env.Ciphertext, []byte(txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to open envelope: %w", err)
	}

	var tx Transaction
	if err := json.Unmarshal(plaintext, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &tx, nil
}

// ValidateEncryptionIntegrity checks the envelope shape and freshness.
// A zero EncryptedAt skips the freshness check.
func ValidateEncryptionIntegrity(env *EncryptedEnvelope, now time.Time, freshness time.Duration) EncryptionValidity {
	issues := []string{}
	if env == nil {
		env = &EncryptedEnvelope{}
	}

	if len(env.Ciphertext) == 0 {
		issues = append(issues, IssueMissingCiphertext)
	}
	switch {
	case len(env.IV) == 0:
		issues = append(issues, IssueMissingIV)
	case len(env.IV) != IVSize:
		issues = append(issues, IssueBadIVLength)
	}

	for i := 0; i < partyCount; i++ {
		if i >= len(env.ProofTags) || len(env.ProofTags[i]) == 0 {
			issues = append(issues, fmt.Sprintf("%s:%d", IssueMissingProofTag, i))
			continue
		}
		if len(env.ProofTags[i]) != ProofTagSize {
			issues = append(issues, fmt.Sprintf("%s:%d", IssueBadProofTagLength, i))
		}
	}

	if env.EncryptedAt != 0 && freshness > 0 {
		if now.Sub(time.UnixMilli(env.EncryptedAt)) >= freshness {
			issues = append(issues, IssueStale)
		}
	}

	return EncryptionValidity{Valid: len(issues) == 0, Issues: issues}
}
