package lookupcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lookupcache/codec"
	"github.com/BaSui01/lookupcache/internal/l1"
	"github.com/BaSui01/lookupcache/internal/pool"
	"github.com/BaSui01/lookupcache/rediscache"
	"github.com/BaSui01/lookupcache/stats"
)

// writeBackTimeout bounds a single background write-back to both tiers.
const writeBackTimeout = 10 * time.Second

// ComputeFunc produces a value on a full cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// MultiLevelCache coordinates the in-process tier, the Redis tier and the
// caller's compute function. Reads check L1, then L2, then compute; computed
// values are written back to both tiers off the caller's goroutine.
type MultiLevelCache struct {
	config  Config
	logger  *zap.Logger
	rec     *stats.Recorder
	l1      *l1.Store
	l2      *rediscache.Client
	workers *pool.Pool
	warmer  *Warmer
	ttls    map[string]time.Duration

	mu            sync.Mutex
	initialized   bool
	metricsCancel context.CancelFunc
	metricsDone   chan struct{}
}

// New builds a cache from the config. Collector and logger may be nil.
// Nothing connects until Init.
func New(config Config, collector *stats.Collector, logger *zap.Logger) *MultiLevelCache {
	config = config.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "lookupcache"))

	rec := stats.NewRecorder(collector)
	cdc := codec.New(config.codecConfig(), rec)

	c := &MultiLevelCache{
		config:  config,
		logger:  logger,
		rec:     rec,
		l1:      l1.New(config.L1MaxSize, config.L1TTL),
		l2:      rediscache.New(config.redisConfig(), cdc, rec, logger),
		workers: pool.New(config.ComputeWorkers, config.ComputeQueueSize),
		ttls: map[string]time.Duration{
			CategoryBusinessLookup: config.BusinessLookupTTL,
			CategoryKnowledgeBase:  config.KnowledgeBaseTTL,
			CategoryDefault:        config.DefaultTTL,
		},
	}
	c.warmer = newWarmer(config, c, rec, logger)
	return c
}

// Init connects the Redis tier and starts the metrics loop. A failed Redis
// connection is not fatal: the cache keeps serving from the in-process tier
// and compute until the backend comes up.
func (c *MultiLevelCache) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		c.logger.Warn("cache already initialized")
		return nil
	}

	if err := c.l2.Connect(ctx); err != nil {
		c.logger.Warn("redis unavailable, serving from in-process tier only", zap.Error(err))
	}

	metricsCtx, cancel := context.WithCancel(context.Background())
	c.metricsCancel = cancel
	c.metricsDone = make(chan struct{})
	go c.metricsLoop(metricsCtx)

	c.initialized = true
	c.logger.Info("multi-level cache initialized",
		zap.Int("l1_max_size", c.config.L1MaxSize),
		zap.Duration("l1_ttl", c.config.L1TTL),
		zap.Bool("l2_connected", c.l2.Connected()),
		zap.Bool("compression", c.config.CompressionEnabled),
	)
	return nil
}

// Shutdown stops the metrics loop, drains pending write-backs and closes the
// Redis connection. It is safe to call more than once.
func (c *MultiLevelCache) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}
	c.initialized = false

	c.metricsCancel()
	<-c.metricsDone

	if err := c.workers.Shutdown(ctx); err != nil {
		c.logger.Warn("write-back queue did not drain before shutdown", zap.Error(err))
	}
	if err := c.l2.Close(); err != nil {
		c.logger.Warn("error closing redis connection", zap.Error(err))
	}

	c.logger.Info("multi-level cache shut down")
	return nil
}

func (c *MultiLevelCache) metricsLoop(ctx context.Context) {
	defer close(c.metricsDone)

	ticker := time.NewTicker(c.config.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.rec.UpdateGauges(c.l1.Len())
		}
	}
}

func l1Key(key, category string) string {
	return category + ":" + key
}

func (c *MultiLevelCache) ttlFor(category string) time.Duration {
	if ttl, ok := c.ttls[category]; ok {
		return ttl
	}
	return c.config.DefaultTTL
}

// Get returns the cached value for key, checking L1 then L2 and finally the
// compute function. Backend failures degrade to compute; a corrupt L2 value
// is returned as an error. A nil compute turns a full miss into (nil, nil).
func (c *MultiLevelCache) Get(ctx context.Context, key, category string, compute ComputeFunc) (any, error) {
	start := time.Now()
	defer func() { c.rec.RecordOperationTime("cache_get", time.Since(start)) }()

	lk := l1Key(key, category)
	if v, ok := c.l1.Get(lk); ok {
		c.rec.RecordL1Hit()
		c.logger.Debug("l1 cache hit", zap.String("key", key), zap.String("category", category))
		return v, nil
	}
	c.rec.RecordL1Miss()

	v, found, err := c.l2.Get(ctx, key, category)
	if err != nil {
		return nil, err
	}
	if found {
		c.rec.RecordL2Hit()
		c.l1.SetWithTTL(lk, v, c.ttlFor(category))
		return v, nil
	}
	c.rec.RecordL2Miss()

	if compute == nil {
		return nil, nil
	}

	computeStart := time.Now()
	v, err = compute(ctx)
	c.rec.RecordOperationTime("cache_compute", time.Since(computeStart))
	if err != nil {
		c.rec.RecordError("compute_error")
		return nil, fmt.Errorf("lookupcache: compute %q: %w", key, err)
	}
	c.rec.RecordCompute()

	if v != nil {
		c.scheduleWriteBack(key, v, category)
	}
	return v, nil
}

// scheduleWriteBack stores a computed value in both tiers off the caller's
// goroutine. A full queue drops the write-back; the value is still returned
// to the caller and will be recomputed next time.
func (c *MultiLevelCache) scheduleWriteBack(key string, value any, category string) {
	err := c.workers.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()
		c.cacheValue(ctx, key, value, category)
	})
	if err != nil {
		c.rec.RecordError("writeback_dropped")
		c.logger.Warn("dropped cache write-back",
			zap.String("key", key), zap.String("category", category), zap.Error(err))
	}
}

// cacheValue writes a value to both tiers with the category TTL.
func (c *MultiLevelCache) cacheValue(ctx context.Context, key string, value any, category string) {
	ttl := c.ttlFor(category)
	c.l1.SetWithTTL(l1Key(key, category), value, ttl)
	if !c.l2.Set(ctx, key, value, ttl, category) {
		c.logger.Debug("l2 write skipped",
			zap.String("key", key), zap.String("category", category))
	}
}

// Set stores a value in both tiers. It reports whether the in-process write
// succeeded; the Redis write is best effort.
func (c *MultiLevelCache) Set(ctx context.Context, key string, value any, category string) bool {
	start := time.Now()
	defer func() { c.rec.RecordOperationTime("cache_set", time.Since(start)) }()

	c.cacheValue(ctx, key, value, category)
	return true
}

// Delete removes a key from both tiers. The result reflects the Redis tier,
// the authoritative store shared across processes.
func (c *MultiLevelCache) Delete(ctx context.Context, key, category string) bool {
	c.l1.Delete(l1Key(key, category))
	return c.l2.Delete(ctx, key, category)
}

// Exists reports whether a key is present in either tier without touching
// hit/miss counters.
func (c *MultiLevelCache) Exists(ctx context.Context, key, category string) bool {
	if _, ok := c.l1.Get(l1Key(key, category)); ok {
		return true
	}
	return c.l2.Exists(ctx, key, category)
}

// ClearPattern removes keys matching the wildcard pattern from both tiers
// within the category and returns the total number cleared.
func (c *MultiLevelCache) ClearPattern(ctx context.Context, pattern, category string) int {
	cleared := 0

	prefix := category + ":"
	for _, k := range c.l1.Keys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		matched, err := path.Match(pattern, strings.TrimPrefix(k, prefix))
		if err != nil || !matched {
			continue
		}
		if c.l1.Delete(k) {
			cleared++
		}
	}

	cleared += c.l2.ClearPattern(ctx, pattern, category)

	c.logger.Info("cleared cache entries",
		zap.String("pattern", pattern), zap.String("category", category), zap.Int("cleared", cleared))
	return cleared
}

// Warmer returns the cache warmer bound to this cache.
func (c *MultiLevelCache) Warmer() *Warmer {
	return c.warmer
}

// L1Health describes the in-process tier for the health report.
type L1Health struct {
	Size               int     `json:"size"`
	MaxSize            int     `json:"max_size"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// HealthReport aggregates tier health, statistics and the effective config.
type HealthReport struct {
	Status        string            `json:"status"`
	L1            L1Health          `json:"l1_cache"`
	L2            rediscache.Health `json:"l2_cache"`
	Statistics    stats.Snapshot    `json:"statistics"`
	Configuration ConfigSummary     `json:"configuration"`
}

// ConfigSummary is the subset of config surfaced in health reports.
type ConfigSummary struct {
	BusinessLookupTTL  time.Duration `json:"business_lookup_ttl"`
	KnowledgeBaseTTL   time.Duration `json:"knowledge_base_ttl"`
	DefaultTTL         time.Duration `json:"default_ttl"`
	CompressionEnabled bool          `json:"compression_enabled"`
	WarmingEnabled     bool          `json:"warming_enabled"`
}

// HealthCheck reports overall health: healthy when the Redis tier is healthy,
// degraded otherwise. The in-process tier cannot fail, so the cache is never
// reported fully down.
func (c *MultiLevelCache) HealthCheck(ctx context.Context) HealthReport {
	l2Health := c.l2.HealthCheck(ctx)

	status := "healthy"
	if l2Health.Status != "healthy" {
		status = "degraded"
	}

	size := c.l1.Len()
	return HealthReport{
		Status: status,
		L1: L1Health{
			Size:               size,
			MaxSize:            c.l1.Capacity(),
			UtilizationPercent: float64(size) / float64(c.l1.Capacity()) * 100,
		},
		L2:         l2Health,
		Statistics: c.rec.Snapshot(),
		Configuration: ConfigSummary{
			BusinessLookupTTL:  c.config.BusinessLookupTTL,
			KnowledgeBaseTTL:   c.config.KnowledgeBaseTTL,
			DefaultTTL:         c.config.DefaultTTL,
			CompressionEnabled: c.config.CompressionEnabled,
			WarmingEnabled:     c.config.WarmingEnabled,
		},
	}
}

// StatsReport is the statistics snapshot plus live tier sizes.
type StatsReport struct {
	stats.Snapshot
	L1Size    int           `json:"l1_size"`
	L1MaxSize int           `json:"l1_max_size"`
	Warming   WarmingStatus `json:"warming"`
}

// GetStats returns current statistics.
func (c *MultiLevelCache) GetStats() StatsReport {
	return StatsReport{
		Snapshot:  c.rec.Snapshot(),
		L1Size:    c.l1.Len(),
		L1MaxSize: c.l1.Capacity(),
		Warming:   c.warmer.Status(),
	}
}

// GetBusinessLookup fetches a business record by phone number.
func (c *MultiLevelCache) GetBusinessLookup(ctx context.Context, phone string, compute ComputeFunc) (any, error) {
	return c.Get(ctx, "business:"+phone, CategoryBusinessLookup, compute)
}

// GetKnowledgeBase fetches a knowledge base answer for a query. The query is
// hashed so arbitrary text yields a bounded, collision-resistant key.
func (c *MultiLevelCache) GetKnowledgeBase(ctx context.Context, businessID, query string, compute ComputeFunc) (any, error) {
	key := fmt.Sprintf("kb:%s:%s", businessID, hashQuery(query))
	return c.Get(ctx, key, CategoryKnowledgeBase, compute)
}

// InvalidateBusiness drops the cached record for a phone number.
func (c *MultiLevelCache) InvalidateBusiness(ctx context.Context, phone string) bool {
	return c.Delete(ctx, "business:"+phone, CategoryBusinessLookup)
}

// InvalidateKnowledgeBase drops all cached answers for a business and
// returns how many were cleared.
func (c *MultiLevelCache) InvalidateKnowledgeBase(ctx context.Context, businessID string) int {
	return c.ClearPattern(ctx, "kb:"+businessID+":*", CategoryKnowledgeBase)
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:16])
}
