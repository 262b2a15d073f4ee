package main

import (
	"encoding/json"
	"errors"
)

// Sentinel errors
var (
	ErrInvalidTransactionStructure = errors.New("invalid transaction structure")
	ErrNodeNotRunning              = errors.New("validation node is not running")
	ErrEmptyBatch                  = errors.New("batch contains no proofs")
	ErrInvalidWitness              = errors.New("invalid witness")
	ErrMalformedProof              = errors.New("malformed compact proof")
	ErrMalformedBatch              = errors.New("malformed batch proof")
)

// Transaction is the record handed to the node by the mempool layer
type Transaction struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    float64 `json:"amount"`
	Hash      string  `json:"hash"`
	Timestamp int64   `json:"timestamp"`
	Nonce     *uint64 `json:"nonce,omitempty"`

	// set when decoded JSON carried no amount key
	amountMissing bool
}

// UnmarshalJSON decodes a transaction and records whether amount was present,
// since a missing amount would otherwise decode as zero
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	type wireTransaction Transaction
	aux := struct {
		*wireTransaction
		Amount *float64 `json:"amount"`
	}{wireTransaction: (*wireTransaction)(tx)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	tx.amountMissing = aux.Amount == nil
	if aux.Amount != nil {
		tx.Amount = *aux.Amount
	}
	return nil
}

// ValidationContext is created fresh for every validation
type ValidationContext struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Witness   string `json:"witness"`
	Timestamp int64  `json:"timestamp"`
	TxHash    string `json:"txHash"`
}

// Severity of a detected anomaly
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ThreatLevel buckets a threat score
type ThreatLevel string

const (
	ThreatNormal   ThreatLevel = "NORMAL"
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// Recommendation is the action derived from a threat score
type Recommendation string

const (
	RecommendAccept     Recommendation = "ACCEPT"
	RecommendFlag       Recommendation = "FLAG"
	RecommendQuarantine Recommendation = "QUARANTINE"
	RecommendReject     Recommendation = "REJECT"
)

// ValidationState tracks a transaction through the pipeline
type ValidationState string

const (
	StateReceived              ValidationState = "RECEIVED"
	StateStructurallyValidated ValidationState = "STRUCTURALLY_VALIDATED"
	StateWitnessed             ValidationState = "WITNESSED"
	StateAnalyzed              ValidationState = "ANALYZED"
	StateScored                ValidationState = "SCORED"
	StateEncryptedAndProven    ValidationState = "ENCRYPTED_PROVEN"
	StateCompacted             ValidationState = "COMPACTED"
	StateStored                ValidationState = "STORED"
	StateRejected              ValidationState = "REJECTED"
)

// VelocityResult is the outcome of the per-sender rate check
type VelocityResult struct {
	Detected bool     `json:"detected"`
	Rate     float64  `json:"rate"`
	Severity Severity `json:"severity"`
}

// ReplayResult is the outcome of the duplicate-hash check
type ReplayResult struct {
	Detected       bool     `json:"detected"`
	PriorTimestamp int64    `json:"priorTimestamp,omitempty"`
	Severity       Severity `json:"severity"`
}

// PatternResult is the outcome of the heuristic shape check
type PatternResult struct {
	Detected bool     `json:"detected"`
	Tags     []string `json:"tags"`
	Severity Severity `json:"severity"`
}

// SpikeResult is the outcome of the global burst check
type SpikeResult struct {
	Detected    bool     `json:"detected"`
	RecentCount int64    `json:"recentCount"`
	Deviation   float64  `json:"deviation"`
	Severity    Severity `json:"severity"`
}

// EncryptionValidity reports the integrity of the sealed envelope
type EncryptionValidity struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// ProofValidity reports the outcome of the lightweight proof
type ProofValidity struct {
	Valid  bool   `json:"valid"`
	Score  int    `json:"score"`
	Scheme string `json:"scheme,omitempty"`
}

// ThreatScore combines the anomaly results into a bounded score
type ThreatScore struct {
	Score          uint8          `json:"score"`
	Level          ThreatLevel    `json:"level"`
	Recommendation Recommendation `json:"recommendation"`
}

// OffchainAnalysis is the full local result of one validation.
// It is kept in the archive and never sent over the network.
type OffchainAnalysis struct {
	TxHash     string             `json:"txHash"`
	Context    ValidationContext  `json:"context"`
	Velocity   VelocityResult     `json:"velocity"`
	Replay     ReplayResult       `json:"replay"`
	Pattern    PatternResult      `json:"pattern"`
	Spike      SpikeResult        `json:"spike"`
	Encryption EncryptionValidity `json:"encryptionValidity"`
	Proof      ProofValidity      `json:"proofValidity"`
	Threat     ThreatScore        `json:"threat"`
	State      ValidationState    `json:"state"`
	AnalyzedAt int64              `json:"analyzedAt"`
}

// Rejected reports whether the pipeline stopped in the terminal failure state
func (a *OffchainAnalysis) Rejected() bool {
	return a.State == StateRejected
}

// Witness is a candidate third party for multi-party encryption
type Witness struct {
	Address    string  `json:"address"`
	Stake      float64 `json:"stake"`
	Reputation float64 `json:"reputation"`
}

// ValidationResult is returned by ValidateTransaction.
// Onchain is nil when the transaction was rejected.
type ValidationResult struct {
	Offchain *OffchainAnalysis `json:"offchain"`
	Onchain  *CompactProof     `json:"onchain"`
	Size     int               `json:"size"`
}

// BatchResult is returned by ProcessBatch
type BatchResult struct {
	Offchain   []*OffchainAnalysis `json:"offchain"`
	Batch      *BatchProof         `json:"batch"`
	Compressed *CompressedBatch    `json:"compressed,omitempty"`
	Size       int                 `json:"size"`
	Signature  string              `json:"signature"`
}
