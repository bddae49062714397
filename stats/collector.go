package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	levelL1      = "l1"
	levelL2      = "l2"
	levelOverall = "overall"
)

// Collector exposes cache metrics to Prometheus. It is optional: the
// Recorder works without one.
type Collector struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	computes    prometheus.Counter
	errorsTotal *prometheus.CounterVec
	breakerTrips prometheus.Counter
	compressionSaves prometheus.Counter
	warmingOps  prometheus.Counter

	hitRate   *prometheus.GaugeVec
	cacheSize *prometheus.GaugeVec
	errorRate prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers the cache metric vectors under the given namespace.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		hits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache_level"},
		),
		misses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache_level"},
		),
		computes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_compute_total",
				Help:      "Total number of compute fallbacks on double miss",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total number of cache errors by kind",
			},
			[]string{"kind"},
		),
		breakerTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
		),
		compressionSaves: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_compression_saves_total",
				Help:      "Total number of values stored compressed",
			},
		),
		warmingOps: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_warming_operations_total",
				Help:      "Total number of completed warming operations",
			},
		),
		hitRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_hit_rate_percent",
				Help:      "Cache hit rate percentage per level",
			},
			[]string{"cache_level"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_size_items",
				Help:      "Number of entries held per cache level",
			},
			[]string{"cache_level"},
		),
		errorRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_error_rate_percent",
				Help:      "Cache error rate percentage",
			},
		),
		logger: logger.With(zap.String("component", "cache_metrics")),
	}

	logger.Info("cache metrics collector initialized", zap.String("namespace", namespace))
	return c
}

func (c *Collector) recordHit(level string)  { c.hits.WithLabelValues(level).Inc() }
func (c *Collector) recordMiss(level string) { c.misses.WithLabelValues(level).Inc() }
func (c *Collector) recordCompute()          { c.computes.Inc() }

func (c *Collector) recordError(kind string)      { c.errorsTotal.WithLabelValues(kind).Inc() }
func (c *Collector) recordCircuitBreakerTrip()    { c.breakerTrips.Inc() }
func (c *Collector) recordCompressionSave()       { c.compressionSaves.Inc() }
func (c *Collector) recordWarmingOperation()      { c.warmingOps.Inc() }

func (c *Collector) updateGauges(snap Snapshot, l1Size int) {
	c.hitRate.WithLabelValues(levelL1).Set(snap.Performance.L1HitRatePercent)
	c.hitRate.WithLabelValues(levelL2).Set(snap.Performance.L2HitRatePercent)
	c.hitRate.WithLabelValues(levelOverall).Set(snap.Performance.OverallHitRatePercent)
	c.cacheSize.WithLabelValues(levelL1).Set(float64(l1Size))
	c.errorRate.Set(snap.Reliability.ErrorRatePercent)
}
