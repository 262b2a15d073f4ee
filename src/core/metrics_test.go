package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordValidation(t *testing.T) {
	before := testutil.ToFloat64(transactionsTotal.WithLabelValues(string(RecommendReject)))
	replayBefore := testutil.ToFloat64(anomaliesTotal.WithLabelValues("replay", string(SeverityCritical)))

	RecordValidation(&OffchainAnalysis{
		Replay: ReplayResult{Detected: true, Severity: SeverityCritical},
		Threat: ThreatScore{Score: 50, Recommendation: RecommendReject},
	}, 0.001)

	if got := testutil.ToFloat64(transactionsTotal.WithLabelValues(string(RecommendReject))); got != before+1 {
		t.Errorf("Expected reject counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(anomaliesTotal.WithLabelValues("replay", string(SeverityCritical))); got != replayBefore+1 {
		t.Errorf("Expected replay anomaly counter %v, got %v", replayBefore+1, got)
	}
}

func TestRecordBatch(t *testing.T) {
	before := testutil.ToFloat64(batchesTotal.WithLabelValues("stored"))

	var m dto.Metric
	if err := batchCompressionRatio.Write(&m); err != nil {
		t.Fatalf("Failed to read histogram: %v", err)
	}
	samples := m.GetHistogram().GetSampleCount()

	RecordBatch("stored", &CompressedBatch{Ratio: 0.4})
	RecordBatch("stored", nil)

	if got := testutil.ToFloat64(batchesTotal.WithLabelValues("stored")); got != before+2 {
		t.Errorf("Expected batch counter %v, got %v", before+2, got)
	}

	m.Reset()
	if err := batchCompressionRatio.Write(&m); err != nil {
		t.Fatalf("Failed to read histogram: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != samples+1 {
		t.Errorf("Expected one ratio observation, got %d new", got-samples)
	}
}

func TestGauges(t *testing.T) {
	UpdateQueueDepthGauge(7)
	if got := testutil.ToFloat64(queueDepthGauge); got != 7 {
		t.Errorf("Expected queue depth 7, got %v", got)
	}

	UpdateOnchainStoreGauge(270)
	if got := testutil.ToFloat64(onchainStoreBytesGauge); got != 270 {
		t.Errorf("Expected store bytes 270, got %v", got)
	}

	before := testutil.ToFloat64(storeEvictionsTotal.WithLabelValues(storeOnchain))
	RecordEvictions(storeOnchain, 3)
	RecordEvictions(storeOnchain, 0)
	if got := testutil.ToFloat64(storeEvictionsTotal.WithLabelValues(storeOnchain)); got != before+3 {
		t.Errorf("Expected evictions %v, got %v", before+3, got)
	}
}
