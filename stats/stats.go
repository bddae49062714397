// Package stats tracks cache counters, rolling operation latencies and
// derived hit rates, and mirrors them into Prometheus.
package stats

import (
	"sync"
	"time"
)

// maxOperationSamples bounds the rolling latency window per operation name.
const maxOperationSamples = 100

// Recorder accumulates cache statistics. All methods are safe for concurrent
// use. Hit and miss rates are derived at snapshot time, never stored.
type Recorder struct {
	mu sync.Mutex

	l1Hits             uint64
	l1Misses           uint64
	l2Hits             uint64
	l2Misses           uint64
	computeOps         uint64
	errors             uint64
	circuitBreakerTrips uint64
	warmingOps         uint64
	totalRequests      uint64
	compressionSaves   uint64
	startTime          time.Time

	errorTypes     map[string]uint64
	operationTimes map[string][]time.Duration

	collector *Collector
}

// NewRecorder creates a Recorder. The collector may be nil, in which case no
// Prometheus metrics are emitted.
func NewRecorder(collector *Collector) *Recorder {
	return &Recorder{
		startTime:      time.Now(),
		errorTypes:     make(map[string]uint64),
		operationTimes: make(map[string][]time.Duration),
		collector:      collector,
	}
}

func (r *Recorder) RecordL1Hit() {
	r.mu.Lock()
	r.l1Hits++
	r.totalRequests++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordHit(levelL1)
	}
}

func (r *Recorder) RecordL1Miss() {
	r.mu.Lock()
	r.l1Misses++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordMiss(levelL1)
	}
}

func (r *Recorder) RecordL2Hit() {
	r.mu.Lock()
	r.l2Hits++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordHit(levelL2)
	}
}

func (r *Recorder) RecordL2Miss() {
	r.mu.Lock()
	r.l2Misses++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordMiss(levelL2)
	}
}

func (r *Recorder) RecordCompute() {
	r.mu.Lock()
	r.computeOps++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordCompute()
	}
}

// RecordError counts an error by kind ("l2_error", "compute_error", ...).
func (r *Recorder) RecordError(kind string) {
	r.mu.Lock()
	r.errors++
	r.errorTypes[kind]++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordError(kind)
	}
}

// RecordOperationTime appends a duration sample to the named operation's
// rolling window, dropping the oldest once the window holds 100 samples.
func (r *Recorder) RecordOperationTime(operation string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	samples := append(r.operationTimes[operation], d)
	if len(samples) > maxOperationSamples {
		samples = samples[1:]
	}
	r.operationTimes[operation] = samples
}

func (r *Recorder) RecordCompressionSave() {
	r.mu.Lock()
	r.compressionSaves++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordCompressionSave()
	}
}

func (r *Recorder) RecordCircuitBreakerTrip() {
	r.mu.Lock()
	r.circuitBreakerTrips++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordCircuitBreakerTrip()
	}
}

func (r *Recorder) RecordWarmingOperation() {
	r.mu.Lock()
	r.warmingOps++
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.recordWarmingOperation()
	}
}

// Performance holds derived rates and rolling latency averages.
type Performance struct {
	L1HitRatePercent      float64            `json:"l1_hit_rate"`
	L2HitRatePercent      float64            `json:"l2_hit_rate"`
	OverallHitRatePercent float64            `json:"overall_hit_rate"`
	MissRatePercent       float64            `json:"cache_miss_rate"`
	AvgOperationMillis    map[string]float64 `json:"avg_operation_ms"`
}

// Counts holds the raw monotonic counters.
type Counts struct {
	L1Hits            uint64 `json:"l1_hits"`
	L1Misses          uint64 `json:"l1_misses"`
	L2Hits            uint64 `json:"l2_hits"`
	L2Misses          uint64 `json:"l2_misses"`
	ComputeOperations uint64 `json:"compute_operations"`
	TotalRequests     uint64 `json:"total_requests"`
}

// Reliability holds error accounting.
type Reliability struct {
	Errors              uint64            `json:"errors"`
	ErrorTypes          map[string]uint64 `json:"error_types"`
	CircuitBreakerTrips uint64            `json:"circuit_breaker_trips"`
	ErrorRatePercent    float64           `json:"error_rate"`
}

// Efficiency holds compression, warming and uptime figures.
type Efficiency struct {
	CompressionSaves  uint64  `json:"compression_saves"`
	WarmingOperations uint64  `json:"warming_operations"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Snapshot is a consistent point-in-time view of all statistics.
type Snapshot struct {
	Performance Performance `json:"performance"`
	Counts      Counts      `json:"counts"`
	Reliability Reliability `json:"reliability"`
	Efficiency  Efficiency  `json:"efficiency"`
}

// Snapshot derives rates from the counters and copies the maps so callers
// can hold the result without racing the recorder.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	avg := make(map[string]float64, len(r.operationTimes))
	for op, samples := range r.operationTimes {
		if len(samples) == 0 {
			continue
		}
		var total time.Duration
		for _, d := range samples {
			total += d
		}
		avg[op] = float64(total.Milliseconds()) / float64(len(samples))
	}

	errTypes := make(map[string]uint64, len(r.errorTypes))
	for k, v := range r.errorTypes {
		errTypes[k] = v
	}

	snap := Snapshot{
		Performance: Performance{
			L1HitRatePercent:      ratePercent(r.l1Hits, r.l1Hits+r.l1Misses),
			L2HitRatePercent:      ratePercent(r.l2Hits, r.l2Hits+r.l2Misses),
			OverallHitRatePercent: ratePercent(r.l1Hits+r.l2Hits, r.totalRequests),
			AvgOperationMillis:    avg,
		},
		Counts: Counts{
			L1Hits:            r.l1Hits,
			L1Misses:          r.l1Misses,
			L2Hits:            r.l2Hits,
			L2Misses:          r.l2Misses,
			ComputeOperations: r.computeOps,
			TotalRequests:     r.totalRequests,
		},
		Reliability: Reliability{
			Errors:              r.errors,
			ErrorTypes:          errTypes,
			CircuitBreakerTrips: r.circuitBreakerTrips,
			ErrorRatePercent:    ratePercent(r.errors, r.totalRequests),
		},
		Efficiency: Efficiency{
			CompressionSaves:  r.compressionSaves,
			WarmingOperations: r.warmingOps,
			UptimeSeconds:     time.Since(r.startTime).Seconds(),
		},
	}

	if misses := r.l1Misses + r.l2Misses; misses >= r.l2Hits {
		snap.Performance.MissRatePercent = ratePercent(misses-r.l2Hits, r.totalRequests)
	}

	return snap
}

// UpdateGauges pushes the derived rates and the current L1 size to the
// Prometheus collector. Called by the coordinator's metrics loop.
func (r *Recorder) UpdateGauges(l1Size int) {
	if r.collector == nil {
		return
	}
	snap := r.Snapshot()
	r.collector.updateGauges(snap, l1Size)
}

func ratePercent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
