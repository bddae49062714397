package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder(nil)

	r.RecordL1Hit()
	r.RecordL1Hit()
	r.RecordL1Miss()
	r.RecordL2Hit()
	r.RecordL2Miss()
	r.RecordCompute()
	r.RecordWarmingOperation()
	r.RecordCompressionSave()
	r.RecordCircuitBreakerTrip()

	snap := r.Snapshot()
	assert.Equal(t, uint64(2), snap.Counts.L1Hits)
	assert.Equal(t, uint64(1), snap.Counts.L1Misses)
	assert.Equal(t, uint64(1), snap.Counts.L2Hits)
	assert.Equal(t, uint64(1), snap.Counts.L2Misses)
	assert.Equal(t, uint64(1), snap.Counts.ComputeOperations)
	assert.Equal(t, uint64(2), snap.Counts.TotalRequests)
	assert.Equal(t, uint64(1), snap.Efficiency.WarmingOperations)
	assert.Equal(t, uint64(1), snap.Efficiency.CompressionSaves)
	assert.Equal(t, uint64(1), snap.Reliability.CircuitBreakerTrips)
}

func TestRecorder_DerivedRates(t *testing.T) {
	r := NewRecorder(nil)

	// 3 L1 hits, 1 L1 miss -> 75% L1 hit rate.
	r.RecordL1Hit()
	r.RecordL1Hit()
	r.RecordL1Hit()
	r.RecordL1Miss()
	// The L1 miss fell through to an L2 hit.
	r.RecordL2Hit()

	snap := r.Snapshot()
	assert.InDelta(t, 75.0, snap.Performance.L1HitRatePercent, 0.01)
	assert.InDelta(t, 100.0, snap.Performance.L2HitRatePercent, 0.01)
}

func TestRecorder_EmptyRatesAreZero(t *testing.T) {
	snap := NewRecorder(nil).Snapshot()
	assert.Zero(t, snap.Performance.L1HitRatePercent)
	assert.Zero(t, snap.Performance.L2HitRatePercent)
	assert.Zero(t, snap.Performance.OverallHitRatePercent)
	assert.Zero(t, snap.Reliability.ErrorRatePercent)
}

func TestRecorder_ErrorsByKind(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordError("l2_error")
	r.RecordError("l2_error")
	r.RecordError("compute_error")

	snap := r.Snapshot()
	assert.Equal(t, uint64(3), snap.Reliability.Errors)
	assert.Equal(t, uint64(2), snap.Reliability.ErrorTypes["l2_error"])
	assert.Equal(t, uint64(1), snap.Reliability.ErrorTypes["compute_error"])
}

func TestRecorder_OperationTimeWindowCapped(t *testing.T) {
	r := NewRecorder(nil)

	// 150 samples: first 50 at 100ms get dropped, remaining 100 at 10ms stay.
	for i := 0; i < 50; i++ {
		r.RecordOperationTime("cache_get", 100*time.Millisecond)
	}
	for i := 0; i < 100; i++ {
		r.RecordOperationTime("cache_get", 10*time.Millisecond)
	}

	r.mu.Lock()
	require.Len(t, r.operationTimes["cache_get"], maxOperationSamples)
	r.mu.Unlock()

	snap := r.Snapshot()
	assert.InDelta(t, 10.0, snap.Performance.AvgOperationMillis["cache_get"], 0.01)
}

func TestRecorder_SnapshotCopiesMaps(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordError("l2_error")

	snap := r.Snapshot()
	snap.Reliability.ErrorTypes["l2_error"] = 99

	assert.Equal(t, uint64(1), r.Snapshot().Reliability.ErrorTypes["l2_error"])
}

func TestCollector_CountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := NewCollector("lookupcache_test", reg, zap.NewNop())
	r := NewRecorder(col)

	r.RecordL1Hit()
	r.RecordL1Miss()
	r.RecordL2Hit()
	r.RecordCompute()
	r.RecordError("l2_error")

	assert.Equal(t, 1.0, testutil.ToFloat64(col.hits.WithLabelValues("l1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.misses.WithLabelValues("l1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.hits.WithLabelValues("l2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.computes))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.errorsTotal.WithLabelValues("l2_error")))

	r.UpdateGauges(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(col.cacheSize.WithLabelValues("l1")))
	assert.InDelta(t, 50.0, testutil.ToFloat64(col.hitRate.WithLabelValues("l1")), 0.01)
}
