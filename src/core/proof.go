package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/zk/dl"
)

// Proof schemes
const (
	ProofSchemeZK13    = "zk13"
	ProofSchemeSchnorr = "schnorr"
)

const (
	proofBaseScore   = 40
	proofFieldBonus  = 20
	proofMaxScore    = 100
	schnorrScalarDST = "proofnode/schnorr/scalar/v1"
)

// LightweightProof is the commitment/challenge/response triple for one transaction
type LightweightProof struct {
	Scheme     string `json:"scheme"`
	Commitment []byte `json:"commitment"`
	Challenge  []byte `json:"challenge"`
	Response   []byte `json:"response"`
	Score      int    `json:"score"`
	Valid      bool   `json:"valid"`
}

// Digest binds the proof to the transaction hash
func (p *LightweightProof) Digest(txHash string) [32]byte {
	h := sha256.New()
	h.Write(p.Commitment)
	h.Write(p.Challenge)
	h.Write(p.Response)
	h.Write([]byte(txHash))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Prover produces a proof of computation over a transaction
type Prover interface {
	Prove(tx *Transaction, vc *ValidationContext) (*LightweightProof, error)
}

// ProofVerifier checks a proof produced by the matching Prover
type ProofVerifier interface {
	Verify(tx *Transaction, vc *ValidationContext, proof *LightweightProof) bool
}

// canonicalTxBytes is the stable byte form every prover commits to.
// Fields cannot contain control characters, so NUL is an unambiguous separator.
func canonicalTxBytes(tx *Transaction) []byte {
	var b bytes.Buffer
	b.WriteString(tx.From)
	b.WriteByte(0)
	b.WriteString(tx.To)
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(tx.Amount, 'g', -1, 64))
	b.WriteByte(0)
	b.WriteString(tx.Hash)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(tx.Timestamp, 10))
	if tx.Nonce != nil {
		b.WriteByte(0)
		b.WriteString(strconv.FormatUint(*tx.Nonce, 10))
	}
	return b.Bytes()
}

func contextBytes(vc *ValidationContext) []byte {
	var b bytes.Buffer
	b.WriteString(vc.Sender)
	b.WriteByte(0)
	b.WriteString(vc.Receiver)
	b.WriteByte(0)
	b.WriteString(vc.Witness)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(vc.Timestamp, 10))
	b.WriteByte(0)
	b.WriteString(vc.TxHash)
	return b.Bytes()
}

func sha256Concat(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// proofScore rewards structurally sound fields
func proofScore(tx *Transaction) int {
	score := proofBaseScore
	if IsCanonicalAddress(tx.From) {
		score += proofFieldBonus
	}
	if IsCanonicalAddress(tx.To) {
		score += proofFieldBonus
	}
	if tx.Amount > 0 {
		score += proofFieldBonus
	}
	if score > proofMaxScore {
		score = proofMaxScore
	}
	return score
}

// ZK13Prover is the hash-based stand-in: commitment = H(tx),
// challenge = H(commitment, context), response = HMAC(key, challenge, tx)
type ZK13Prover struct {
	key      []byte
	minScore int
}

// NewZK13Prover creates a prover keyed by the node secret
func NewZK13Prover(key []byte, minScore int) *ZK13Prover {
	return &ZK13Prover{key: key, minScore: minScore}
}

func (p *ZK13Prover) response(challenge, txBytes []byte) []byte {
	mac := hmac.New(sha256.New, p.key)
	mac.Write(challenge)
	mac.Write(txBytes)
	return mac.Sum(nil)
}

// Prove implements Prover
func (p *ZK13Prover) Prove(tx *Transaction, vc *ValidationContext) (*LightweightProof, error) {
	txBytes := canonicalTxBytes(tx)
	commitment := sha256Concat(txBytes)
	challenge := sha256Concat(commitment, contextBytes(vc))
	score := proofScore(tx)

	return &LightweightProof{
		Scheme:     ProofSchemeZK13,
		Commitment: commitment,
		Challenge:  challenge,
		Response:   p.response(challenge, txBytes),
		Score:      score,
		Valid:      score >= p.minScore,
	}, nil
}

// Verify implements ProofVerifier by recomputing every component
func (p *ZK13Prover) Verify(tx *Transaction, vc *ValidationContext, proof *LightweightProof) bool {
	if proof == nil || proof.Scheme != ProofSchemeZK13 {
		return false
	}
	txBytes := canonicalTxBytes(tx)
	commitment := sha256Concat(txBytes)
	challenge := sha256Concat(commitment, contextBytes(vc))

	return bytes.Equal(proof.Commitment, commitment) &&
		bytes.Equal(proof.Challenge, challenge) &&
		hmac.Equal(proof.Response, p.response(challenge, txBytes)) &&
		proof.Score == proofScore(tx)
}

// SchnorrProver backs the same shape with a non-interactive Schnorr proof
// of knowledge of a discrete log over Ristretto255. The secret scalar is
// derived from the node key and the transaction; the commitment is k*G.
type SchnorrProver struct {
	key      []byte
	minScore int
}

// NewSchnorrProver creates a prover keyed by the node secret
func NewSchnorrProver(key []byte, minScore int) *SchnorrProver {
	return &SchnorrProver{key: key, minScore: minScore}
}

func schnorrGroup() group.Group {
	return group.Ristretto255
}

func (p *SchnorrProver) secret(txBytes []byte) group.Scalar {
	msg := make([]byte, 0, len(p.key)+len(txBytes))
	msg = append(msg, p.key...)
	msg = append(msg, txBytes...)
	return schnorrGroup().HashToScalar(msg, []byte(schnorrScalarDST))
}

// Prove implements Prover
func (p *SchnorrProver) Prove(tx *Transaction, vc *ValidationContext) (*LightweightProof, error) {
	g := schnorrGroup()
	txBytes := canonicalTxBytes(tx)

	k := p.secret(txBytes)
	base := g.Generator()
	kG := g.NewElement().Mul(base, k)

	commitment, err := kG.MarshalBinaryCompress()
	if err != nil {
		return nil, fmt.Errorf("failed to encode commitment: %w", err)
	}
	challenge := sha256Concat(commitment, contextBytes(vc))

	proof := dl.Prove(g, base, kG, k, challenge, []byte(tx.Hash), rand.Reader)
	v, err := proof.V.MarshalBinaryCompress()
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof element: %w", err)
	}
	r, err := proof.R.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof scalar: %w", err)
	}

	score := proofScore(tx)
	return &LightweightProof{
		Scheme:     ProofSchemeSchnorr,
		Commitment: commitment,
		Challenge:  challenge,
		Response:   append(v, r...),
		Score:      score,
		Valid:      score >= p.minScore,
	}, nil
}

// Verify implements ProofVerifier. The Schnorr proof itself is publicly
// verifiable; the key is only needed to tie the commitment to this tx.
func (p *SchnorrProver) Verify(tx *Transaction, vc *ValidationContext, proof *LightweightProof) bool {
	if proof == nil || proof.Scheme != ProofSchemeSchnorr {
		return false
	}
	g := schnorrGroup()
	params := g.Params()
	elemLen := int(params.CompressedElementLength)
	if len(proof.Response) != elemLen+int(params.ScalarLength) {
		return false
	}

	kG := g.NewElement()
	if err := kG.UnmarshalBinary(proof.Commitment); err != nil {
		return false
	}
	expectedKG := g.NewElement().Mul(g.Generator(), p.secret(canonicalTxBytes(tx)))
	if !kG.IsEqual(expectedKG) {
		return false
	}
	if !bytes.Equal(proof.Challenge, sha256Concat(proof.Commitment, contextBytes(vc))) {
		return false
	}

	v := g.NewElement()
	if err := v.UnmarshalBinary(proof.Response[:elemLen]); err != nil {
		return false
	}
	r := g.NewScalar()
	if err := r.UnmarshalBinary(proof.Response[elemLen:]); err != nil {
		return false
	}

	return dl.Verify(g, g.Generator(), kG, dl.Proof{V: v, R: r}, proof.Challenge, []byte(tx.Hash)) &&
		proof.Score == proofScore(tx)
}

// newProver selects the configured proof scheme
func newProver(scheme string, key []byte, minScore int) (Prover, error) {
	switch scheme {
	case ProofSchemeZK13, "":
		return NewZK13Prover(key, minScore), nil
	case ProofSchemeSchnorr:
		return NewSchnorrProver(key, minScore), nil
	default:
		return nil, fmt.Errorf("unknown proof scheme %q", scheme)
	}
}
