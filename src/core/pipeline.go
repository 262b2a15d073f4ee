package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/quidnug/proofnode"

var tracer = otel.Tracer(tracerName)

// Store names used in eviction metrics
const (
	storeOnchain = "onchain"
	storeBatch   = "batch"
)

// ValidateTransaction runs the full pipeline for one transaction. It fails
// only for a stopped node or a malformed transaction; every anomaly is
// reported in the result.
func (n *ValidationNode) ValidateTransaction(ctx context.Context, tx *Transaction) (*ValidationResult, error) {
	if !n.IsRunning() {
		return nil, ErrNodeNotRunning
	}

	n.validationMu.Lock()
	defer n.validationMu.Unlock()

	return n.validateLocked(ctx, tx)
}

// ProcessBatch validates txs in order and aggregates the resulting proofs
// under one root. A malformed transaction fails the whole call before any
// analysis runs.
func (n *ValidationNode) ProcessBatch(ctx context.Context, txs []Transaction) (*BatchResult, error) {
	if !n.IsRunning() {
		return nil, ErrNodeNotRunning
	}

	n.validationMu.Lock()
	defer n.validationMu.Unlock()

	return n.processBatchLocked(ctx, txs)
}

func (n *ValidationNode) validateLocked(ctx context.Context, tx *Transaction) (*ValidationResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "ValidateTransaction")
	defer span.End()

	if err := n.checkStructure(tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed transaction")
		return nil, err
	}

	a, proof := n.analyze(ctx, tx)
	n.commit(a, proof)
	RecordValidation(a, time.Since(start).Seconds())

	result := &ValidationResult{Offchain: a, Onchain: proof}
	if proof != nil {
		result.Size = CompactProofSize
	}
	span.SetAttributes(
		attribute.String("validation.state", string(a.State)),
		attribute.Int("threat.score", int(a.Threat.Score)),
	)
	return result, nil
}

func (n *ValidationNode) processBatchLocked(ctx context.Context, txs []Transaction) (*BatchResult, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}

	ctx, span := tracer.Start(ctx, "ProcessBatch", trace.WithAttributes(attribute.Int("batch.size", len(txs))))
	defer span.End()

	for i := range txs {
		if err := n.checkStructure(&txs[i]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "malformed transaction")
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
	}

	start := time.Now()
	analyses := make([]*OffchainAnalysis, 0, len(txs))
	proofs := make([]*CompactProof, 0, len(txs))
	var compact []CompactProof
	for i := range txs {
		a, proof := n.analyze(ctx, &txs[i])
		analyses = append(analyses, a)
		proofs = append(proofs, proof)
		if proof != nil {
			compact = append(compact, *proof)
		}
	}

	committed := false
	defer func() {
		if !committed {
			n.forgetBatchReplays(txs, analyses)
		}
	}()

	result := &BatchResult{Offchain: analyses}
	if len(compact) == 0 {
		committed = true
		n.commitBatch(analyses, proofs, start)
		RecordBatch("empty", nil)
		logger.Info("Batch produced no proofs", "size", len(txs))
		return result, nil
	}

	batch, err := NewBatchProof(compact, n.now().UnixMilli())
	if err != nil {
		RecordBatch("failed", nil)
		return nil, err
	}

	size := 0
	if n.cfg.CompressBatches {
		compressed, err := CompressBatch(batch)
		if err != nil {
			RecordBatch("failed", nil)
			span.RecordError(err)
			span.SetStatus(codes.Error, "compression failed")
			return nil, err
		}
		result.Compressed = compressed
		size = compressed.CompressedSize
	} else {
		raw, err := batch.MarshalBinary()
		if err != nil {
			RecordBatch("failed", nil)
			return nil, err
		}
		size = len(raw)
	}

	root, err := hex.DecodeString(batch.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	signature, err := n.SignData(root)
	if err != nil {
		return nil, fmt.Errorf("failed to sign batch: %w", err)
	}

	result.Batch = batch
	result.Size = size
	result.Signature = hex.EncodeToString(signature)

	committed = true
	evicted, _ := n.batches.Put(batch, size)
	RecordEvictions(storeBatch, evicted)
	n.batchCount.Add(1)
	n.commitBatch(analyses, proofs, start)
	RecordBatch("stored", result.Compressed)

	span.SetAttributes(attribute.Int("batch.proofs", batch.Count), attribute.Int("batch.bytes", size))
	logger.Info("Processed batch",
		"size", len(txs),
		"proofs", batch.Count,
		"merkleRoot", batch.MerkleRoot,
		"bytes", size)
	return result, nil
}

// forgetBatchReplays releases the replay entries a failed batch recorded so
// the same transactions can be resubmitted. Velocity and pattern history stay.
func (n *ValidationNode) forgetBatchReplays(txs []Transaction, analyses []*OffchainAnalysis) {
	for i, a := range analyses {
		if !a.Replay.Detected {
			n.detector.ForgetReplay(txs[i].Hash)
		}
	}
}

func (n *ValidationNode) checkStructure(tx *Transaction) error {
	if err := ValidateTransactionStructure(tx); err != nil {
		n.malformedCount.Add(1)
		RecordMalformedTransaction()
		logger.Debug("Rejected malformed transaction", "error", err)
		return err
	}
	return nil
}

// analyze drives one structurally valid transaction through the state
// machine up to COMPACTED, or to REJECTED. It returns a nil proof for a
// rejected transaction. Stores are untouched.
func (n *ValidationNode) analyze(ctx context.Context, tx *Transaction) (*OffchainAnalysis, *CompactProof) {
	_, span := tracer.Start(ctx, "analyze", trace.WithAttributes(attribute.String("tx.fragment", hashFragment(tx.Hash))))
	defer span.End()

	now := n.now()
	a := &OffchainAnalysis{
		TxHash:     tx.Hash,
		State:      StateStructurallyValidated,
		AnalyzedAt: now.UnixMilli(),
	}

	a.Context = ValidationContext{
		Sender:    tx.From,
		Receiver:  tx.To,
		Witness:   n.witnesses.Select(tx.From, tx.To, n.NodeID),
		Timestamp: tx.Timestamp,
		TxHash:    tx.Hash,
	}
	a.State = StateWitnessed

	n.tpms.Add(now, 1)
	a.Velocity = n.detector.CheckVelocity(tx.From, now)
	a.Replay = n.detector.CheckReplay(tx.Hash, now)
	a.Pattern = n.detector.CheckPattern(tx)
	mean, stddev, samples := n.tpms.Baseline(now)
	a.Spike = n.detector.CheckSpike(n.tpms.Current(now), mean, stddev, samples)
	a.State = StateAnalyzed

	a.Threat = ScoreThreat(a.Velocity, a.Replay, a.Pattern, a.Spike, IntegrityPenalties{})
	a.State = StateScored
	if a.Threat.Recommendation == RecommendReject {
		a.State = StateRejected
		span.SetAttributes(attribute.Bool("rejected", true))
		return a, nil
	}

	proof := n.encryptAndProve(tx, a, now)
	a.State = StateEncryptedAndProven

	a.Threat = ScoreAnalysis(a)
	if a.Threat.Recommendation == RecommendReject {
		a.State = StateRejected
		span.SetAttributes(attribute.Bool("rejected", true))
		return a, nil
	}

	compact := n.compactor.BuildCompactProof(proof.Digest(tx.Hash), a, now)
	a.State = StateCompacted
	return a, compact
}

// encryptAndProve runs the encryptor and the prover concurrently and
// records both integrity results on a
func (n *ValidationNode) encryptAndProve(tx *Transaction, a *OffchainAnalysis, now time.Time) *LightweightProof {
	var (
		wg       sync.WaitGroup
		env      *EncryptedEnvelope
		encErr   error
		proof    *LightweightProof
		proofErr error
	)
	parties := Parties{Sender: tx.From, Receiver: tx.To, Witness: a.Context.Witness}

	wg.Add(2)
	go func() {
		defer wg.Done()
		env, encErr = n.encryptor.Seal(tx, parties, now)
	}()
	go func() {
		defer wg.Done()
		proof, proofErr = n.prover.Prove(tx, &a.Context)
	}()
	wg.Wait()

	if encErr != nil {
		logger.Warn("Encryption failed", "txHash", tx.Hash, "error", encErr)
		a.Encryption = EncryptionValidity{Valid: false, Issues: []string{IssueSealFailed}}
	} else {
		a.Encryption = ValidateEncryptionIntegrity(env, n.now(), n.cfg.EncryptionFreshness)
	}

	if proofErr != nil || proof == nil {
		logger.Warn("Proof generation failed", "txHash", tx.Hash, "error", proofErr)
		proof = &LightweightProof{Scheme: n.cfg.ProofScheme}
	} else if v, ok := n.prover.(ProofVerifier); ok && !v.Verify(tx, &a.Context, proof) {
		proof.Valid = false
	}
	a.Proof = ProofValidity{Valid: proof.Valid, Score: proof.Score, Scheme: proof.Scheme}

	return proof
}

// commit stores one outcome: the compact proof on-chain when present,
// the analysis in the archive, and any events
func (n *ValidationNode) commit(a *OffchainAnalysis, proof *CompactProof) {
	if proof != nil {
		n.storeOnchain(a, proof)
	}
	n.finish(a)
}

func (n *ValidationNode) commitBatch(analyses []*OffchainAnalysis, proofs []*CompactProof, start time.Time) {
	perTx := time.Since(start).Seconds() / float64(len(analyses))
	for i, a := range analyses {
		n.commit(a, proofs[i])
		RecordValidation(a, perTx)
	}
}

func (n *ValidationNode) storeOnchain(a *OffchainAnalysis, proof *CompactProof) {
	evicted, stored := n.onchain.Put(*proof, CompactProofSize)
	RecordEvictions(storeOnchain, evicted)
	UpdateOnchainStoreGauge(n.onchain.Bytes())
	if !stored {
		logger.Warn("Compact proof exceeds on-chain store capacity", "txHash", a.TxHash)
		return
	}

	if n.journal != nil {
		root, _ := n.compactor.Merkle().Last()
		if err := n.journal.Append(proof, root); err != nil {
			logger.Error("Failed to journal compact proof", "txHash", a.TxHash, "error", err)
		}
	}
	a.State = StateStored
}

func (n *ValidationNode) finish(a *OffchainAnalysis) {
	n.archive.Add(a)

	if a.Rejected() {
		n.rejectedCount.Add(1)
	} else {
		n.validatedCount.Add(1)
	}

	if a.Spike.Detected {
		n.events.Publish(newEvent(EventSpikeDetected, a.TxHash, string(a.Spike.Severity), a.AnalyzedAt))
		logger.Warn("Transaction spike detected",
			"recentCount", a.Spike.RecentCount,
			"deviation", a.Spike.Deviation,
			"severity", a.Spike.Severity)
	}
	if a.Threat.Score > n.cfg.HighThreatThreshold {
		n.events.Publish(newEvent(EventHighThreat, a.TxHash, string(a.Threat.Level), a.AnalyzedAt))
		logger.Warn("High threat transaction",
			"txHash", a.TxHash,
			"score", a.Threat.Score,
			"recommendation", a.Threat.Recommendation)
	}

	logger.Debug("Validated transaction",
		"txHash", a.TxHash,
		"state", a.State,
		"score", a.Threat.Score,
		"recommendation", a.Threat.Recommendation)
}
