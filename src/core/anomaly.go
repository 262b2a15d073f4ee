package main

import (
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Pattern tags
const (
	PatternRoundAmount     = "round_amount"
	PatternSequentialNonce = "sequential_nonce"
	PatternRepeatedAmount  = "repeated_amount"
)

const (
	roundAmountUnit     = 1000
	roundAmountFloor    = 10_000
	repeatedAmountMin   = 3
	spikeDeviationLimit = 3.0
	spikeStdDevEpsilon  = 1.0
)

// AnomalyConfig holds the detector thresholds
type AnomalyConfig struct {
	VelocityWindow     time.Duration
	MaxRatePerSecond   int
	MaxTrackedSenders  int
	ReplayWindow       time.Duration
	PatternHistory     int
	SpikeThreshold     int64
	MinBaselineBuckets int
	MinSpikeCount      int64
}

func anomalyConfigFrom(cfg *Config) AnomalyConfig {
	return AnomalyConfig{
		VelocityWindow:     cfg.VelocityWindow,
		MaxRatePerSecond:   cfg.MaxRatePerSecond,
		MaxTrackedSenders:  cfg.MaxTrackedSenders,
		ReplayWindow:       cfg.ReplayWindow,
		PatternHistory:     cfg.PatternHistory,
		SpikeThreshold:     cfg.SpikeThreshold,
		MinBaselineBuckets: cfg.MinBaselineBuckets,
		MinSpikeCount:      cfg.MinSpikeCount,
	}
}

// senderHistory is the per-sender state behind velocity and pattern checks
type senderHistory struct {
	times   []int64 // unix nanos inside the velocity window, oldest first
	amounts []float64
	nonces  []uint64
}

type replayEntry struct {
	key  uint64
	seen int64
}

// AnomalyDetector runs the velocity, replay, pattern and spike checks.
// It is not safe for concurrent use; the owning node serialises access.
type AnomalyDetector struct {
	cfg          AnomalyConfig
	maxPerSender int
	senders      *lru.Cache[string, *senderHistory]
	replaySeen   map[uint64]int64
	replayOrder  []replayEntry
	replayHead   int
}

// NewAnomalyDetector creates a detector with bounded per-sender state
func NewAnomalyDetector(cfg AnomalyConfig) (*AnomalyDetector, error) {
	if cfg.PatternHistory < repeatedAmountMin {
		cfg.PatternHistory = DefaultPatternHistory
	}
	if cfg.MaxTrackedSenders < 1 {
		cfg.MaxTrackedSenders = DefaultMaxTrackedSenders
	}
	senders, err := lru.New[string, *senderHistory](cfg.MaxTrackedSenders)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender cache: %w", err)
	}

	maxPerSender := int(4 * float64(cfg.MaxRatePerSecond) * cfg.VelocityWindow.Seconds())
	if maxPerSender < 16 {
		maxPerSender = 16
	}

	return &AnomalyDetector{
		cfg:          cfg,
		maxPerSender: maxPerSender,
		senders:      senders,
		replaySeen:   make(map[uint64]int64),
	}, nil
}

func (d *AnomalyDetector) history(sender string) *senderHistory {
	if h, ok := d.senders.Get(sender); ok {
		return h
	}
	h := &senderHistory{}
	d.senders.Add(sender, h)
	return h
}

// CheckVelocity records an event for sender and reports its rate over the sliding window
func (d *AnomalyDetector) CheckVelocity(sender string, now time.Time) VelocityResult {
	h := d.history(sender)
	cutoff := now.UnixNano() - int64(d.cfg.VelocityWindow)

	drop := 0
	for drop < len(h.times) && h.times[drop] <= cutoff {
		drop++
	}
	h.times = append(h.times[drop:], now.UnixNano())
	if over := len(h.times) - d.maxPerSender; over > 0 {
		h.times = h.times[over:]
	}

	rate := float64(len(h.times)) / d.cfg.VelocityWindow.Seconds()
	limit := float64(d.cfg.MaxRatePerSecond)

	result := VelocityResult{Rate: rate, Severity: SeverityNone}
	if rate > limit {
		result.Detected = true
		result.Severity = SeverityHigh
		if rate >= 2*limit {
			result.Severity = SeverityCritical
		}
	}
	return result
}

// CheckReplay reports whether txHash was seen within the replay window,
// recording it when it was not
func (d *AnomalyDetector) CheckReplay(txHash string, now time.Time) ReplayResult {
	nowNano := now.UnixNano()
	d.pruneReplay(nowNano)

	key := xxhash.Sum64String(txHash)
	if seen, ok := d.replaySeen[key]; ok && nowNano-seen < int64(d.cfg.ReplayWindow) {
		return ReplayResult{
			Detected:       true,
			PriorTimestamp: time.Unix(0, seen).UnixMilli(),
			Severity:       SeverityCritical,
		}
	}

	d.replaySeen[key] = nowNano
	d.replayOrder = append(d.replayOrder, replayEntry{key: key, seen: nowNano})
	return ReplayResult{Severity: SeverityNone}
}

func (d *AnomalyDetector) pruneReplay(nowNano int64) {
	window := int64(d.cfg.ReplayWindow)
	for d.replayHead < len(d.replayOrder) {
		e := d.replayOrder[d.replayHead]
		if nowNano-e.seen < window {
			break
		}
		if d.replaySeen[e.key] == e.seen {
			delete(d.replaySeen, e.key)
		}
		d.replayHead++
	}

	if d.replayHead > 1024 && d.replayHead*2 > len(d.replayOrder) {
		remaining := copy(d.replayOrder, d.replayOrder[d.replayHead:])
		d.replayOrder = d.replayOrder[:remaining]
		d.replayHead = 0
	}
}

// ForgetReplay removes txHash from the replay window
func (d *AnomalyDetector) ForgetReplay(txHash string) {
	delete(d.replaySeen, xxhash.Sum64String(txHash))
}

// ReplayEntries returns the number of hashes inside the replay window
func (d *AnomalyDetector) ReplayEntries() int {
	return len(d.replaySeen)
}

// TrackedSenders returns the number of senders with live history
func (d *AnomalyDetector) TrackedSenders() int {
	return d.senders.Len()
}

// CheckPattern flags suspicious transaction shapes and records tx in the sender history
func (d *AnomalyDetector) CheckPattern(tx *Transaction) PatternResult {
	h := d.history(tx.From)
	n := d.cfg.PatternHistory

	h.amounts = appendBounded(h.amounts, tx.Amount, n)
	if tx.Nonce != nil {
		h.nonces = appendBounded(h.nonces, *tx.Nonce, n)
	}

	tags := []string{}
	if tx.Amount > roundAmountFloor && math.Mod(tx.Amount, roundAmountUnit) == 0 {
		tags = append(tags, PatternRoundAmount)
	}
	if tx.Nonce != nil && isSequential(h.nonces, n) {
		tags = append(tags, PatternSequentialNonce)
	}
	if countEqual(h.amounts, tx.Amount) >= repeatedAmountMin {
		tags = append(tags, PatternRepeatedAmount)
	}

	result := PatternResult{Tags: tags, Severity: SeverityNone}
	if len(tags) > 0 {
		result.Detected = true
		result.Severity = SeverityMedium
		if len(tags) > 2 {
			result.Severity = SeverityHigh
		}
	}
	return result
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if over := len(s) - limit; over > 0 {
		s = append(s[:0], s[over:]...)
	}
	return s
}

// isSequential reports whether the last n nonces each increase by exactly one
func isSequential(nonces []uint64, n int) bool {
	if len(nonces) < n {
		return false
	}
	for i := 1; i < len(nonces); i++ {
		if nonces[i] != nonces[i-1]+1 {
			return false
		}
	}
	return true
}

func countEqual(amounts []float64, v float64) int {
	count := 0
	for _, a := range amounts {
		if a == v {
			count++
		}
	}
	return count
}

// CheckSpike compares the recent global count against the rolling baseline.
// The deviation test only applies once the baseline spans minBaselineBuckets
// and the recent count reaches MinSpikeCount.
func (d *AnomalyDetector) CheckSpike(recentCount int64, baselineRate, baselineStdDev float64, baselineSamples int) SpikeResult {
	deviation := (float64(recentCount) - baselineRate) / math.Max(baselineStdDev, spikeStdDevEpsilon)

	result := SpikeResult{RecentCount: recentCount, Deviation: deviation, Severity: SeverityNone}

	overThreshold := recentCount > d.cfg.SpikeThreshold
	statistical := baselineSamples >= d.cfg.MinBaselineBuckets &&
		recentCount >= d.cfg.MinSpikeCount &&
		deviation > spikeDeviationLimit

	if overThreshold || statistical {
		result.Detected = true
		result.Severity = SeverityHigh
		if recentCount > 2*d.cfg.SpikeThreshold {
			result.Severity = SeverityCritical
		}
	}
	return result
}
