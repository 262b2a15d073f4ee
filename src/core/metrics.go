package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Validation metrics
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofnode_transactions_total",
		Help: "Total number of transactions validated, by recommendation",
	}, []string{"recommendation"})

	malformedTransactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proofnode_malformed_transactions_total",
		Help: "Total number of transactions rejected for invalid structure",
	})

	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofnode_anomalies_total",
		Help: "Total number of detected anomalies",
	}, []string{"kind", "severity"})

	threatScoreHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proofnode_threat_score",
		Help:    "Distribution of threat scores",
		Buckets: []float64{0, 20, 40, 60, 80, 120, 160, 255},
	})

	validationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proofnode_validation_duration_seconds",
		Help:    "Duration of single transaction validation",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	})

	// Batch metrics
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofnode_batches_total",
		Help: "Total number of processed batches",
	}, []string{"status"})

	batchCompressionRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proofnode_batch_compression_ratio",
		Help:    "Compressed size divided by original size",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	// Gauge metrics
	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proofnode_queue_depth",
		Help: "Current number of queued transactions",
	})

	onchainStoreBytesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proofnode_onchain_store_bytes",
		Help: "Serialized bytes held in the on-chain proof store",
	})

	storeEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofnode_store_evictions_total",
		Help: "Entries evicted from bounded stores",
	}, []string{"store"})

	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofnode_events_published_total",
		Help: "Events published on the node event bus",
	}, []string{"type"})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofnode_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proofnode_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordValidation records the outcome of one validation
func RecordValidation(a *OffchainAnalysis, seconds float64) {
	transactionsTotal.WithLabelValues(string(a.Threat.Recommendation)).Inc()
	threatScoreHistogram.Observe(float64(a.Threat.Score))
	validationDuration.Observe(seconds)

	if a.Velocity.Detected {
		anomaliesTotal.WithLabelValues("velocity", string(a.Velocity.Severity)).Inc()
	}
	if a.Replay.Detected {
		anomaliesTotal.WithLabelValues("replay", string(a.Replay.Severity)).Inc()
	}
	if a.Pattern.Detected {
		anomaliesTotal.WithLabelValues("pattern", string(a.Pattern.Severity)).Inc()
	}
	if a.Spike.Detected {
		anomaliesTotal.WithLabelValues("spike", string(a.Spike.Severity)).Inc()
	}
}

// RecordMalformedTransaction records a structural rejection
func RecordMalformedTransaction() {
	malformedTransactionsTotal.Inc()
}

// RecordBatch records a batch outcome and, when compressed, its ratio
func RecordBatch(status string, compressed *CompressedBatch) {
	batchesTotal.WithLabelValues(status).Inc()
	if compressed != nil {
		batchCompressionRatio.Observe(compressed.Ratio)
	}
}

// RecordEvictions records entries evicted from a named store
func RecordEvictions(store string, n int) {
	if n > 0 {
		storeEvictionsTotal.WithLabelValues(store).Add(float64(n))
	}
}

// UpdateQueueDepthGauge updates the queue depth gauge
func UpdateQueueDepthGauge(depth int) {
	queueDepthGauge.Set(float64(depth))
}

// UpdateOnchainStoreGauge updates the on-chain store size gauge
func UpdateOnchainStoreGauge(bytes int) {
	onchainStoreBytesGauge.Set(float64(bytes))
}
