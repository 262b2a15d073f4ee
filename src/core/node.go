package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Package-level logger, replaced by initLogger at startup
var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

// initLogger initializes the structured logger based on the log level
func initLogger(logLevel string) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger = slog.New(handler)
}

// ValidationNode orchestrates the validation pipeline and owns every
// piece of state that persists across calls
type ValidationNode struct {
	*NodeIdentity

	cfg       *Config
	now       func() time.Time
	startedAt time.Time

	detector  *AnomalyDetector
	tpms      *WindowedCounter
	witnesses *WitnessPool
	encryptor Encryptor
	prover    Prover
	compactor *ProofCompactor
	onchain   *ByteBoundedStore[CompactProof]
	batches   *ByteBoundedStore[*BatchProof]
	archive   *Archive
	journal   *ProofJournal
	events    *EventBus

	// validationMu serialises the pipeline so each validation is atomic
	// and proofs are stored in submission order
	validationMu sync.Mutex

	queueMu sync.Mutex
	queue   []Transaction

	runMu   sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	validatedCount atomic.Uint64
	rejectedCount  atomic.Uint64
	malformedCount atomic.Uint64
	batchCount     atomic.Uint64
}

// NodeOption customises a ValidationNode
type NodeOption func(*ValidationNode)

// WithClock replaces the wall clock used by the pipeline
func WithClock(now func() time.Time) NodeOption {
	return func(n *ValidationNode) { n.now = now }
}

// WithIdentity sets the node key pair
func WithIdentity(id *NodeIdentity) NodeOption {
	return func(n *ValidationNode) { n.NodeIdentity = id }
}

// WithEncryptor replaces the multi-party encryptor
func WithEncryptor(e Encryptor) NodeOption {
	return func(n *ValidationNode) { n.encryptor = e }
}

// WithProver replaces the proof scheme
func WithProver(p Prover) NodeOption {
	return func(n *ValidationNode) { n.prover = p }
}

// WithJournal persists stored proofs to a LevelDB journal
func WithJournal(j *ProofJournal) NodeOption {
	return func(n *ValidationNode) { n.journal = j }
}

// NewValidationNode builds a stopped node from cfg
func NewValidationNode(cfg *Config, opts ...NodeOption) (*ValidationNode, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	detector, err := NewAnomalyDetector(anomalyConfigFrom(cfg))
	if err != nil {
		return nil, err
	}

	node := &ValidationNode{
		cfg:       cfg,
		now:       time.Now,
		detector:  detector,
		tpms:      NewWindowedCounter(cfg.SpikeBucket, cfg.SpikeBaselineBuckets+1),
		witnesses: NewWitnessPool(cfg.WitnessPoolSize),
		compactor: NewProofCompactor(cfg.MerkleCacheSize),
		onchain:   NewByteBoundedStore[CompactProof](cfg.OnchainStoreCapBytes),
		batches:   NewByteBoundedStore[*BatchProof](cfg.BatchStoreCapBytes),
		archive:   NewArchive(cfg.ArchiveCapacity),
		events:    NewEventBus(cfg.EventBufferSize),
	}
	for _, opt := range opts {
		opt(node)
	}

	if node.NodeIdentity == nil {
		if node.NodeIdentity, err = NewNodeIdentity(); err != nil {
			return nil, err
		}
	}
	if node.encryptor == nil {
		node.encryptor = NewGodCypher(cfg.EncryptionDomain)
	}
	if node.prover == nil {
		if node.prover, err = newProver(cfg.ProofScheme, node.ProverKey(), cfg.ProofMinScore); err != nil {
			return nil, err
		}
	}
	if node.journal != nil {
		if err := node.restoreFromJournal(); err != nil {
			return nil, err
		}
	}

	node.startedAt = node.now()
	logger.Info("Initialized validation node", "nodeId", node.NodeID, "proofScheme", cfg.ProofScheme)
	return node, nil
}

// restoreFromJournal reloads the newest proofs that fit the on-chain cap
// and resumes the rolling Merkle chain
func (n *ValidationNode) restoreFromJournal() error {
	proofs, err := n.journal.Recent(n.cfg.OnchainStoreCapBytes)
	if err != nil {
		return err
	}
	for _, p := range proofs {
		n.onchain.Put(p, CompactProofSize)
	}

	root, ok, err := n.journal.LastRoot()
	if err != nil {
		return err
	}
	if ok {
		n.compactor.Merkle().Seed(root)
	}

	UpdateOnchainStoreGauge(n.onchain.Bytes())
	logger.Info("Restored proofs from journal", "count", len(proofs), "journalEntries", n.journal.Len())
	return nil
}

// Start begins draining the queue on every tick until ctx is cancelled or Stop is called
func (n *ValidationNode) Start(ctx context.Context) {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	if n.cancel != nil {
		if n.running.Load() {
			return
		}
		// the loop exited on its own when the parent context ended
		n.cancel()
		<-n.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	n.running.Store(true)

	go n.run(runCtx, n.done)
	logger.Info("Validation node started", "nodeId", n.NodeID, "tickInterval", n.cfg.TickInterval)
}

// Stop halts future dequeues. A validation already in flight completes.
func (n *ValidationNode) Stop() {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	if n.cancel == nil {
		return
	}
	n.cancel()
	<-n.done
	n.cancel = nil
	n.done = nil
	n.running.Store(false)
	logger.Info("Validation node stopped", "nodeId", n.NodeID, "queued", n.QueueLength())
}

// IsRunning reports whether the node accepts validation calls
func (n *ValidationNode) IsRunning() bool {
	return n.running.Load()
}

func (n *ValidationNode) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer n.running.Store(false)

	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.processTick(ctx)
		}
	}
}

// processTick validates one queued transaction, or a bounded batch when
// TickBatchSize is greater than one
func (n *ValidationNode) processTick(ctx context.Context) {
	txs := n.dequeue(n.cfg.TickBatchSize)
	if len(txs) == 0 {
		return
	}

	n.validationMu.Lock()
	defer n.validationMu.Unlock()

	if len(txs) == 1 {
		if _, err := n.validateLocked(ctx, &txs[0]); err != nil {
			logger.Warn("Dropped queued transaction", "txHash", txs[0].Hash, "error", err)
		}
		return
	}

	if _, err := n.processBatchLocked(ctx, txs); err != nil {
		logger.Error("Failed to process queued batch", "size", len(txs), "error", err)
	}
}

// SubmitTransaction checks the structure of tx and enqueues it.
// Submission is accepted while the node is stopped.
func (n *ValidationNode) SubmitTransaction(tx Transaction) (string, error) {
	if tx.Timestamp == 0 {
		tx.Timestamp = n.now().UnixMilli()
	}
	if err := ValidateTransactionStructure(&tx); err != nil {
		n.malformedCount.Add(1)
		RecordMalformedTransaction()
		return "", err
	}

	n.queueMu.Lock()
	n.queue = append(n.queue, tx)
	depth := len(n.queue)
	n.queueMu.Unlock()

	UpdateQueueDepthGauge(depth)
	logger.Debug("Queued transaction", "txHash", tx.Hash, "queueDepth", depth)
	return tx.Hash, nil
}

func (n *ValidationNode) dequeue(max int) []Transaction {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()

	if max > len(n.queue) {
		max = len(n.queue)
	}
	if max == 0 {
		return nil
	}
	out := make([]Transaction, max)
	copy(out, n.queue[:max])
	n.queue = n.queue[max:]
	if len(n.queue) == 0 {
		n.queue = nil
	}
	UpdateQueueDepthGauge(len(n.queue))
	return out
}

// QueueLength returns the number of transactions waiting for a tick
func (n *ValidationNode) QueueLength() int {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return len(n.queue)
}

// AddWitness registers a candidate witness
func (n *ValidationNode) AddWitness(address string, stake, reputation float64) error {
	added, err := n.witnesses.Add(Witness{Address: address, Stake: stake, Reputation: reputation})
	if err != nil {
		return err
	}
	if added {
		logger.Info("Added witness", "address", address, "poolSize", n.witnesses.Len())
	}
	return nil
}

// Witnesses returns the witness pool, oldest first
func (n *ValidationNode) Witnesses() []Witness {
	return n.witnesses.List()
}

// Events returns the outbound event channel
func (n *ValidationNode) Events() <-chan Event {
	return n.events.Events()
}

// DrainEvents returns all buffered events without blocking
func (n *ValidationNode) DrainEvents() []Event {
	return n.events.Drain()
}

// GetAnalysis returns the archived analysis for txHash
func (n *ValidationNode) GetAnalysis(txHash string) (*OffchainAnalysis, bool) {
	return n.archive.Get(txHash)
}

// OnchainProofs returns the on-chain store contents, oldest first
func (n *ValidationNode) OnchainProofs() []CompactProof {
	return n.onchain.Entries()
}

// Batches returns the batch store contents, oldest first
func (n *ValidationNode) Batches() []*BatchProof {
	return n.batches.Entries()
}

// NodeStats is the read-only statistics snapshot
type NodeStats struct {
	NodeID               string  `json:"nodeId"`
	Running              bool    `json:"running"`
	UptimeSeconds        int64   `json:"uptimeSeconds"`
	OnchainStoreBytes    int     `json:"onchainStoreBytes"`
	OnchainStoreCapBytes int     `json:"onchainStoreCapBytes"`
	OnchainStoreEntries  int     `json:"onchainStoreEntries"`
	OnchainUtilization   float64 `json:"onchainUtilization"`
	OnchainEvicted       uint64  `json:"onchainEvicted"`
	ArchiveEntries       int     `json:"archiveEntries"`
	ArchiveCapacity      int     `json:"archiveCapacity"`
	BatchStoreEntries    int     `json:"batchStoreEntries"`
	BatchStoreBytes      int     `json:"batchStoreBytes"`
	CurrentRate          float64 `json:"currentRate"`
	AverageRate          float64 `json:"averageRate"`
	MaxRate              float64 `json:"maxRate"`
	MerkleCacheEntries   int     `json:"merkleCacheEntries"`
	MerkleCacheCapacity  int     `json:"merkleCacheCapacity"`
	QueueLength          int     `json:"queueLength"`
	WitnessCount         int     `json:"witnessCount"`
	TrackedSenders       int     `json:"trackedSenders"`
	ReplayEntries        int     `json:"replayEntries"`
	Validated            uint64  `json:"validated"`
	Rejected             uint64  `json:"rejected"`
	Malformed            uint64  `json:"malformed"`
	Batches              uint64  `json:"batches"`
	EventsDropped        uint64  `json:"eventsDropped"`
	JournalEntries       uint64  `json:"journalEntries"`
}

// Stats returns a statistics snapshot
func (n *ValidationNode) Stats() NodeStats {
	now := n.now()

	n.validationMu.Lock()
	currentRate := n.tpms.RatePerSecond(n.tpms.Current(now))
	averageRate := n.tpms.AverageRate(now)
	maxRate := n.tpms.MaxRate()
	trackedSenders := n.detector.TrackedSenders()
	replayEntries := n.detector.ReplayEntries()
	n.validationMu.Unlock()

	stats := NodeStats{
		NodeID:               n.NodeID,
		Running:              n.IsRunning(),
		UptimeSeconds:        int64(now.Sub(n.startedAt).Seconds()),
		OnchainStoreBytes:    n.onchain.Bytes(),
		OnchainStoreCapBytes: n.onchain.Cap(),
		OnchainStoreEntries:  n.onchain.Len(),
		OnchainUtilization:   n.onchain.Utilization(),
		OnchainEvicted:       n.onchain.Evicted(),
		ArchiveEntries:       n.archive.Len(),
		ArchiveCapacity:      n.cfg.ArchiveCapacity,
		BatchStoreEntries:    n.batches.Len(),
		BatchStoreBytes:      n.batches.Bytes(),
		CurrentRate:          currentRate,
		AverageRate:          averageRate,
		MaxRate:              maxRate,
		MerkleCacheEntries:   n.compactor.Merkle().Len(),
		MerkleCacheCapacity:  n.compactor.Merkle().Cap(),
		QueueLength:          n.QueueLength(),
		WitnessCount:         n.witnesses.Len(),
		TrackedSenders:       trackedSenders,
		ReplayEntries:        replayEntries,
		Validated:            n.validatedCount.Load(),
		Rejected:             n.rejectedCount.Load(),
		Malformed:            n.malformedCount.Load(),
		Batches:              n.batchCount.Load(),
		EventsDropped:        n.events.Dropped(),
	}
	if n.journal != nil {
		stats.JournalEntries = n.journal.Len()
	}
	return stats
}

func main() {
	cfg := LoadConfig()
	initLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		logger.Error("Validation node failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	identity, err := LoadOrCreateNodeIdentity(cfg.DataDir)
	if err != nil {
		return err
	}

	opts := []NodeOption{WithIdentity(identity)}
	if cfg.JournalEnabled {
		journal, err := OpenProofJournal(filepath.Join(cfg.DataDir, journalDirname), cfg.OnchainStoreCapBytes/CompactProofSize)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, WithJournal(journal))
	}

	node, err := NewValidationNode(cfg, opts...)
	if err != nil {
		return err
	}

	if err := node.LoadPendingTransactions(cfg.DataDir); err != nil {
		logger.Warn("Failed to load pending transactions", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node.Start(ctx)
	serverErr := node.StartServer(ctx, cfg)
	node.Stop()

	if err := node.SavePendingTransactions(cfg.DataDir); err != nil {
		logger.Error("Failed to save pending transactions", "error", err)
	}

	if serverErr != nil && !errors.Is(serverErr, context.Canceled) {
		return serverErr
	}
	return nil
}
