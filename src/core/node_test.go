package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a settable clock shared by a node under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.DataDir = ""
	return cfg
}

// newTestNode creates a running node driven by a frozen clock
func newTestNode(t *testing.T, opts ...NodeOption) (*ValidationNode, *testClock) {
	t.Helper()
	return newTestNodeWithConfig(t, testConfig(), opts...)
}

func newTestNodeWithConfig(t *testing.T, cfg *Config, opts ...NodeOption) (*ValidationNode, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts = append([]NodeOption{WithClock(clock.Now)}, opts...)
	node, err := NewValidationNode(cfg, opts...)
	require.NoError(t, err)
	node.Start(context.Background())
	t.Cleanup(node.Stop)
	return node, clock
}

func newTestTx(from, to string, amount float64, hash string, ts int64) Transaction {
	return Transaction{From: from, To: to, Amount: amount, Hash: hash, Timestamp: ts}
}

func syntheticTxs(n int, ts int64) []Transaction {
	txs := make([]Transaction, n)
	for i := range txs {
		txs[i] = newTestTx(
			fmt.Sprintf("sender-%03d", i),
			fmt.Sprintf("receiver-%03d", i),
			float64(10+i),
			fmt.Sprintf("tx-%03d", i),
			ts)
	}
	return txs
}

func TestNewValidationNodeInitialization(t *testing.T) {
	node, _ := newTestNode(t)

	assert.Len(t, node.NodeID, 16)
	assert.True(t, node.IsRunning())
	assert.Equal(t, 0, node.QueueLength())
	assert.Equal(t, 0, node.archive.Len())
	assert.Equal(t, 0, node.onchain.Len())

	_, isZK13 := node.prover.(*ZK13Prover)
	assert.True(t, isZK13, "Expected default prover to be zk13")
	_, isGodCypher := node.encryptor.(*GodCypher)
	assert.True(t, isGodCypher, "Expected default encryptor to be GodCypher")
}

func TestNewValidationNodeRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ProofScheme = "unknown"

	_, err := NewValidationNode(cfg)
	assert.Error(t, err)
}

func TestNewValidationNodeSchnorrScheme(t *testing.T) {
	cfg := testConfig()
	cfg.ProofScheme = ProofSchemeSchnorr
	node, clock := newTestNodeWithConfig(t, cfg)

	tx := newTestTx("A", "B", 100, "h1", clock.Now().UnixMilli())
	result, err := node.ValidateTransaction(context.Background(), &tx)
	require.NoError(t, err)

	assert.Equal(t, ProofSchemeSchnorr, result.Offchain.Proof.Scheme)
	assert.True(t, result.Offchain.Proof.Valid)
	require.NotNil(t, result.Onchain)
	assert.True(t, result.Onchain.Valid())
}

func TestValidateTransactionRequiresRunningNode(t *testing.T) {
	node, clock := newTestNode(t)
	node.Stop()

	tx := newTestTx("A", "B", 100, "h1", clock.Now().UnixMilli())
	_, err := node.ValidateTransaction(context.Background(), &tx)
	assert.ErrorIs(t, err, ErrNodeNotRunning)

	_, err = node.ProcessBatch(context.Background(), []Transaction{tx})
	assert.ErrorIs(t, err, ErrNodeNotRunning)
}

func TestValidateTransactionReplayScenario(t *testing.T) {
	node, clock := newTestNode(t)
	tx1 := newTestTx("A", "B", 100, "h1", clock.Now().UnixMilli())

	first, err := node.ValidateTransaction(context.Background(), &tx1)
	require.NoError(t, err)

	require.NotNil(t, first.Onchain)
	assert.Equal(t, first.Offchain.Proof.Valid && first.Offchain.Encryption.Valid, first.Onchain.Valid())
	assert.True(t, first.Onchain.Valid())
	assert.False(t, first.Offchain.Replay.Detected)
	assert.Equal(t, RecommendAccept, first.Offchain.Threat.Recommendation)
	assert.Equal(t, StateStored, first.Offchain.State)
	assert.Equal(t, CompactProofSize, first.Size)

	clock.Advance(10 * time.Millisecond)
	second, err := node.ValidateTransaction(context.Background(), &tx1)
	require.NoError(t, err)

	assert.True(t, second.Offchain.Replay.Detected)
	assert.Equal(t, SeverityCritical, second.Offchain.Replay.Severity)
	assert.Equal(t, RecommendReject, second.Offchain.Threat.Recommendation)
	assert.Equal(t, StateRejected, second.Offchain.State)
	assert.Nil(t, second.Onchain)
	assert.Equal(t, 0, second.Size)

	assert.Equal(t, 1, node.onchain.Len(), "Expected only the first proof on-chain")
	archived, ok := node.GetAnalysis("h1")
	require.True(t, ok)
	assert.Same(t, second.Offchain, archived, "Expected archive index to hold the newest analysis")
}

func TestValidateTransactionReplayWindowElapses(t *testing.T) {
	node, clock := newTestNode(t)
	tx := newTestTx("A", "B", 100, "h1", clock.Now().UnixMilli())

	_, err := node.ValidateTransaction(context.Background(), &tx)
	require.NoError(t, err)

	clock.Advance(node.cfg.ReplayWindow + time.Second)
	result, err := node.ValidateTransaction(context.Background(), &tx)
	require.NoError(t, err)

	assert.False(t, result.Offchain.Replay.Detected)
	assert.NotNil(t, result.Onchain)
}

func TestValidateTransactionMalformed(t *testing.T) {
	node, clock := newTestNode(t)
	ts := clock.Now().UnixMilli()

	var noAmount Transaction
	require.NoError(t, json.Unmarshal([]byte(`{"from":"A","to":"B","hash":"h-no-amount","timestamp":1}`), &noAmount))

	tests := []struct {
		name string
		tx   Transaction
	}{
		{"missing sender", newTestTx("", "B", 1, "h", ts)},
		{"missing amount", noAmount},
		{"missing receiver", newTestTx("A", "", 1, "h", ts)},
		{"missing hash", newTestTx("A", "B", 1, "", ts)},
		{"negative amount", newTestTx("A", "B", -1, "h", ts)},
		{"whitespace sender", newTestTx("A B", "B", 1, "h", ts)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := node.ValidateTransaction(context.Background(), &tt.tx)
			assert.ErrorIs(t, err, ErrInvalidTransactionStructure)
		})
	}

	assert.Equal(t, 0, node.archive.Len(), "Malformed transactions must not be analysed")
	assert.Equal(t, uint64(len(tests)), node.Stats().Malformed)
}

func TestValidateTransactionWitnessExclusion(t *testing.T) {
	node, clock := newTestNode(t)
	for _, addr := range []string{"A", "B", "W1", "W2"} {
		require.NoError(t, node.AddWitness(addr, 10, 1))
	}

	for i := 0; i < 50; i++ {
		tx := newTestTx("A", "B", float64(i+1), fmt.Sprintf("w-%d", i), clock.Now().UnixMilli())
		clock.Advance(50 * time.Millisecond)
		result, err := node.ValidateTransaction(context.Background(), &tx)
		require.NoError(t, err)

		witness := result.Offchain.Context.Witness
		assert.NotEqual(t, "A", witness)
		assert.NotEqual(t, "B", witness)
		assert.Contains(t, []string{"W1", "W2"}, witness)
	}
}

func TestValidateTransactionVelocityScenario(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRatePerSecond = 10
	node, clock := newTestNodeWithConfig(t, cfg)

	var last *ValidationResult
	for i := 0; i < 12; i++ {
		tx := newTestTx("A", fmt.Sprintf("R%d", i), float64(i+1), fmt.Sprintf("v-%d", i), clock.Now().UnixMilli())
		result, err := node.ValidateTransaction(context.Background(), &tx)
		require.NoError(t, err)
		last = result
	}
	assert.True(t, last.Offchain.Velocity.Detected)
	assert.Equal(t, SeverityHigh, last.Offchain.Velocity.Severity)

	for i := 12; i < 25; i++ {
		tx := newTestTx("A", fmt.Sprintf("R%d", i), float64(i+1), fmt.Sprintf("v-%d", i), clock.Now().UnixMilli())
		result, err := node.ValidateTransaction(context.Background(), &tx)
		require.NoError(t, err)
		last = result
	}
	assert.Equal(t, SeverityCritical, last.Offchain.Velocity.Severity)
	assert.NotZero(t, last.Offchain.Threat.Score)
}

func TestValidateTransactionEvents(t *testing.T) {
	t.Run("spike-detected", func(t *testing.T) {
		cfg := testConfig()
		cfg.SpikeThreshold = 3
		node, clock := newTestNodeWithConfig(t, cfg)

		var spiked *ValidationResult
		for i, tx := range syntheticTxs(4, clock.Now().UnixMilli()) {
			tx := tx
			result, err := node.ValidateTransaction(context.Background(), &tx)
			require.NoError(t, err)
			if i == 3 {
				spiked = result
			}
		}

		require.True(t, spiked.Offchain.Spike.Detected)
		assert.Equal(t, RecommendReject, spiked.Offchain.Threat.Recommendation)

		events := node.DrainEvents()
		require.Len(t, events, 1)
		assert.Equal(t, EventSpikeDetected, events[0].Type)
		assert.Equal(t, hashFragment("tx-003"), events[0].HashFragment)
		assert.Equal(t, string(SeverityHigh), events[0].Severity)
	})

	t.Run("high-threat", func(t *testing.T) {
		cfg := testConfig()
		cfg.HighThreatThreshold = 40
		node, clock := newTestNodeWithConfig(t, cfg)

		tx := newTestTx("A", "B", 100, "h1", clock.Now().UnixMilli())
		_, err := node.ValidateTransaction(context.Background(), &tx)
		require.NoError(t, err)
		assert.Empty(t, node.DrainEvents())

		_, err = node.ValidateTransaction(context.Background(), &tx)
		require.NoError(t, err)

		events := node.DrainEvents()
		require.Len(t, events, 1)
		assert.Equal(t, EventHighThreat, events[0].Type)
		assert.NotContains(t, events[0].HashFragment, "h1")
		assert.NotEmpty(t, events[0].ID)
	})
}

func TestOnchainStoreEvictionThroughNode(t *testing.T) {
	cfg := testConfig()
	cfg.OnchainStoreCapBytes = 3 * CompactProofSize
	node, clock := newTestNodeWithConfig(t, cfg)

	var proofs []CompactProof
	for _, tx := range syntheticTxs(5, clock.Now().UnixMilli()) {
		tx := tx
		result, err := node.ValidateTransaction(context.Background(), &tx)
		require.NoError(t, err)
		require.NotNil(t, result.Onchain)
		proofs = append(proofs, *result.Onchain)
	}

	stats := node.Stats()
	assert.LessOrEqual(t, stats.OnchainStoreBytes, cfg.OnchainStoreCapBytes)
	assert.Equal(t, uint64(2), stats.OnchainEvicted)
	assert.Equal(t, proofs[2:], node.OnchainProofs())
	assert.Equal(t, 5, stats.ArchiveEntries, "Archive keeps analyses of evicted proofs")
}

func TestProcessBatchScenario(t *testing.T) {
	node, clock := newTestNode(t)
	txs := syntheticTxs(100, clock.Now().UnixMilli())

	result, err := node.ProcessBatch(context.Background(), txs)
	require.NoError(t, err)
	require.NotNil(t, result.Batch)

	assert.Equal(t, 100, result.Batch.Count)
	assert.Len(t, result.Batch.Proofs, 100)
	assert.Len(t, result.Batch.MerkleRoot, 64)
	assert.Len(t, result.Offchain, 100)
	assert.True(t, result.Batch.VerifyRoot())

	require.NotNil(t, result.Compressed)
	assert.Equal(t, result.Compressed.CompressedSize, result.Size)
	decompressed, err := DecompressBatch(result.Compressed)
	require.NoError(t, err)
	assert.Equal(t, result.Batch, decompressed)

	root, err := hex.DecodeString(result.Batch.MerkleRoot)
	require.NoError(t, err)
	assert.True(t, VerifySignature(node.GetPublicKeyHex(), root, result.Signature))

	for _, a := range result.Offchain {
		assert.Equal(t, StateStored, a.State)
	}
	assert.Len(t, node.Batches(), 1)
	assert.Equal(t, uint64(1), node.Stats().Batches)
}

func TestProcessBatchUncompressed(t *testing.T) {
	cfg := testConfig()
	cfg.CompressBatches = false
	node, clock := newTestNodeWithConfig(t, cfg)

	result, err := node.ProcessBatch(context.Background(), syntheticTxs(10, clock.Now().UnixMilli()))
	require.NoError(t, err)

	assert.Nil(t, result.Compressed)
	assert.Equal(t, batchHeaderSize+10*CompactProofSize, result.Size)
}

func TestProcessBatchDeterministicRoot(t *testing.T) {
	identity, err := NewNodeIdentity()
	require.NoError(t, err)

	nodeA, clockA := newTestNode(t, WithIdentity(identity))
	nodeB, clockB := newTestNode(t, WithIdentity(identity))
	require.Equal(t, clockA.Now(), clockB.Now())

	txs := syntheticTxs(20, clockA.Now().UnixMilli())
	resultA, err := nodeA.ProcessBatch(context.Background(), append([]Transaction(nil), txs...))
	require.NoError(t, err)
	resultB, err := nodeB.ProcessBatch(context.Background(), append([]Transaction(nil), txs...))
	require.NoError(t, err)

	assert.Equal(t, resultA.Batch.MerkleRoot, resultB.Batch.MerkleRoot)
}

func TestProcessBatchMalformedFailsWholeCall(t *testing.T) {
	node, clock := newTestNode(t)
	txs := syntheticTxs(5, clock.Now().UnixMilli())
	txs[3].Hash = ""

	_, err := node.ProcessBatch(context.Background(), txs)
	assert.ErrorIs(t, err, ErrInvalidTransactionStructure)
	assert.Equal(t, 0, node.archive.Len())
	assert.Equal(t, 0, node.onchain.Len())
	assert.Empty(t, node.Batches())
}

func TestProcessBatchEmpty(t *testing.T) {
	node, _ := newTestNode(t)

	_, err := node.ProcessBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestProcessBatchAllRejected(t *testing.T) {
	node, clock := newTestNode(t)
	tx := newTestTx("A", "B", 5, "dup", clock.Now().UnixMilli())

	_, err := node.ValidateTransaction(context.Background(), &tx)
	require.NoError(t, err)

	result, err := node.ProcessBatch(context.Background(), []Transaction{tx})
	require.NoError(t, err)

	assert.Nil(t, result.Batch)
	assert.Equal(t, 0, result.Size)
	require.Len(t, result.Offchain, 1)
	assert.True(t, result.Offchain[0].Rejected())
	assert.Empty(t, node.Batches())
}

func TestSubmitTransactionProcessedOnTick(t *testing.T) {
	node, clock := newTestNode(t)

	hash, err := node.SubmitTransaction(newTestTx("A", "B", 1, "queued-1", clock.Now().UnixMilli()))
	require.NoError(t, err)
	assert.Equal(t, "queued-1", hash)

	require.Eventually(t, func() bool {
		_, ok := node.GetAnalysis("queued-1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, node.QueueLength())
}

func TestSubmitTransactionBatchedOnTick(t *testing.T) {
	cfg := testConfig()
	cfg.TickBatchSize = 8
	node, clock := newTestNodeWithConfig(t, cfg)
	node.Stop()

	for _, tx := range syntheticTxs(8, clock.Now().UnixMilli()) {
		_, err := node.SubmitTransaction(tx)
		require.NoError(t, err)
	}
	node.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(node.Batches()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 8, node.Batches()[0].Count)
}

func TestSubmitTransactionWhileStopped(t *testing.T) {
	node, clock := newTestNode(t)
	node.Stop()
	assert.False(t, node.IsRunning())

	_, err := node.SubmitTransaction(newTestTx("A", "B", 1, "q", clock.Now().UnixMilli()))
	require.NoError(t, err)
	assert.Equal(t, 1, node.QueueLength())

	_, err = node.SubmitTransaction(newTestTx("A", "", 1, "bad", clock.Now().UnixMilli()))
	assert.ErrorIs(t, err, ErrInvalidTransactionStructure)
	assert.Equal(t, 1, node.QueueLength())
}

func TestStartStopIdempotent(t *testing.T) {
	node, _ := newTestNode(t)

	node.Start(context.Background())
	assert.True(t, node.IsRunning())

	node.Stop()
	node.Stop()
	assert.False(t, node.IsRunning())

	node.Start(context.Background())
	assert.True(t, node.IsRunning())
}

func TestFailedBatchReleasesReplayEntries(t *testing.T) {
	node, clock := newTestNode(t)
	txs := syntheticTxs(5, clock.Now().UnixMilli())
	txs = append(txs, txs[0])

	result, err := node.ProcessBatch(context.Background(), txs)
	require.NoError(t, err)
	require.True(t, result.Offchain[5].Replay.Detected)

	node.validationMu.Lock()
	node.forgetBatchReplays(txs, result.Offchain)
	node.validationMu.Unlock()
	assert.Equal(t, 0, node.detector.ReplayEntries())

	retry, err := node.ProcessBatch(context.Background(), txs[:5])
	require.NoError(t, err)
	for i, a := range retry.Offchain {
		assert.False(t, a.Replay.Detected, "member %d flagged as replay after release", i)
	}
}

func TestRestartAfterParentContextCancelled(t *testing.T) {
	node, clock := newTestNode(t)
	node.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	node.Start(ctx)
	cancel()
	require.Eventually(t, func() bool {
		return !node.IsRunning()
	}, 2*time.Second, 5*time.Millisecond)

	_, err := node.SubmitTransaction(newTestTx("A", "B", 1, "after-cancel", clock.Now().UnixMilli()))
	require.NoError(t, err)

	node.Start(context.Background())
	assert.True(t, node.IsRunning())

	require.Eventually(t, func() bool {
		return node.QueueLength() == 0 && node.archive.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := node.GetAnalysis("after-cancel")
	assert.True(t, ok)

	node.Stop()
	assert.False(t, node.IsRunning())
}

func TestGetCompactConfirmation(t *testing.T) {
	node, clock := newTestNode(t)
	tx := newTestTx("A", "B", 100, "h1", clock.Now().UnixMilli())

	result, err := node.ValidateTransaction(context.Background(), &tx)
	require.NoError(t, err)

	c := node.GetCompactConfirmation(result)
	assert.Len(t, c[:], ConfirmationSize)
	assert.Equal(t, node.IDFragment(), c.NodeFragment())
	assert.True(t, c.Valid())
	assert.Equal(t, result.Onchain.ProofHash, c.ProofHash())
	assert.Equal(t, result.Onchain.Timestamp, c.Timestamp())
	assert.Equal(t, result.Onchain.ThreatScore, c.ThreatScore())
	assert.Equal(t, result.Onchain.Flags, c.Flags())

	parsed, err := ParseConfirmation(c.Hex())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	rejected, err := node.ValidateTransaction(context.Background(), &tx)
	require.NoError(t, err)
	rc := node.GetCompactConfirmation(rejected)
	assert.False(t, rc.Valid())
	assert.Equal(t, [8]byte{}, rc.ProofHash())
	assert.Equal(t, FlagReplay, rc.Flags(), "Integrity bits stay clear when integrity checks never ran")
}

func TestParseConfirmationErrors(t *testing.T) {
	_, err := ParseConfirmation("zz")
	assert.ErrorIs(t, err, ErrMalformedProof)

	_, err = ParseConfirmation("abcd")
	assert.ErrorIs(t, err, ErrMalformedProof)
}

func TestStats(t *testing.T) {
	node, clock := newTestNode(t)
	require.NoError(t, node.AddWitness("W1", 1, 1))

	tx := newTestTx("A", "B", 100, "h1", clock.Now().UnixMilli())
	_, err := node.ValidateTransaction(context.Background(), &tx)
	require.NoError(t, err)
	_, err = node.ValidateTransaction(context.Background(), &tx)
	require.NoError(t, err)

	stats := node.Stats()
	assert.Equal(t, node.NodeID, stats.NodeID)
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Validated)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, CompactProofSize, stats.OnchainStoreBytes)
	assert.Equal(t, 2, stats.ArchiveEntries)
	assert.Equal(t, 1, stats.MerkleCacheEntries)
	assert.Equal(t, 1, stats.WitnessCount)
	assert.Equal(t, 1, stats.TrackedSenders)
	assert.Equal(t, 1, stats.ReplayEntries)
	assert.Greater(t, stats.CurrentRate, 0.0)
}

func TestJournalRestoresOnchainStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), journalDirname)
	identity, err := NewNodeIdentity()
	require.NoError(t, err)

	journal, err := OpenProofJournal(path, 100)
	require.NoError(t, err)
	node, clock := newTestNode(t, WithIdentity(identity), WithJournal(journal))

	for _, tx := range syntheticTxs(3, clock.Now().UnixMilli()) {
		tx := tx
		_, err := node.ValidateTransaction(context.Background(), &tx)
		require.NoError(t, err)
	}
	stored := node.OnchainProofs()
	lastRoot, ok := node.compactor.Merkle().Last()
	require.True(t, ok)
	node.Stop()
	require.NoError(t, journal.Close())

	reopened, err := OpenProofJournal(path, 100)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	restored, _ := newTestNode(t, WithIdentity(identity), WithJournal(reopened))
	assert.Equal(t, stored, restored.OnchainProofs())
	restoredRoot, ok := restored.compactor.Merkle().Last()
	require.True(t, ok)
	assert.Equal(t, lastRoot, restoredRoot)
	assert.Equal(t, uint64(3), restored.Stats().JournalEntries)
}

func TestPendingTransactionsPersistence(t *testing.T) {
	dir := t.TempDir()
	node, clock := newTestNode(t)
	node.Stop()

	for _, tx := range syntheticTxs(2, clock.Now().UnixMilli()) {
		_, err := node.SubmitTransaction(tx)
		require.NoError(t, err)
	}
	require.NoError(t, node.SavePendingTransactions(dir))

	_, err := os.Stat(filepath.Join(dir, pendingTxsFilename))
	require.NoError(t, err)

	fresh, _ := newTestNode(t)
	fresh.Stop()
	require.NoError(t, fresh.LoadPendingTransactions(dir))
	assert.Equal(t, 2, fresh.QueueLength())

	_, err = os.Stat(filepath.Join(dir, pendingTxsFilename))
	assert.True(t, errors.Is(err, os.ErrNotExist), "Expected pending file removed after load")

	// An empty queue clears any stale file
	require.NoError(t, os.WriteFile(filepath.Join(dir, pendingTxsFilename), []byte("[]"), 0644))
	empty, _ := newTestNode(t)
	require.NoError(t, empty.SavePendingTransactions(dir))
	_, err = os.Stat(filepath.Join(dir, pendingTxsFilename))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadPendingTransactionsSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	content := `[{"from":"A","to":"B","amount":1,"hash":"ok","timestamp":1},{"from":"","to":"B","amount":1,"hash":"bad"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, pendingTxsFilename), []byte(content), 0644))

	node, _ := newTestNode(t)
	node.Stop()
	require.NoError(t, node.LoadPendingTransactions(dir))
	assert.Equal(t, 1, node.QueueLength())
}
