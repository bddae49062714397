package lookupcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/lookupcache/stats"
)

// WarmSpec describes one key to warm. TTL overrides the category TTL when
// positive; Category falls back to the default category when empty.
type WarmSpec struct {
	Key      string
	Category string
	TTL      time.Duration
	Compute  ComputeFunc
}

// WarmingStatus is the warmer's live state for stats and health reports.
type WarmingStatus struct {
	Enabled     bool     `json:"enabled"`
	Concurrency int      `json:"concurrency"`
	ActiveTasks int      `json:"active_tasks"`
	ActiveKeys  []string `json:"active_keys,omitempty"`
}

// Warmer populates the cache proactively. Keys already cached are skipped,
// keys already being warmed are deduplicated, and one failed key never stops
// the others.
type Warmer struct {
	cache       *MultiLevelCache
	rec         *stats.Recorder
	logger      *zap.Logger
	enabled     bool
	concurrency int

	mu       sync.Mutex
	inflight map[string]struct{}
}

func newWarmer(config Config, cache *MultiLevelCache, rec *stats.Recorder, logger *zap.Logger) *Warmer {
	return &Warmer{
		cache:       cache,
		rec:         rec,
		logger:      logger.With(zap.String("component", "cache_warmer")),
		enabled:     config.WarmingEnabled,
		concurrency: config.WarmingConcurrency,
		inflight:    make(map[string]struct{}),
	}
}

// WarmKeys warms a batch of keys in one category, computing each with the
// given function. It blocks until the batch finishes.
func (w *Warmer) WarmKeys(ctx context.Context, category string, keys []string, compute func(ctx context.Context, key string) (any, error)) {
	specs := make([]WarmSpec, 0, len(keys))
	for _, key := range keys {
		key := key
		specs = append(specs, WarmSpec{
			Key:      key,
			Category: category,
			Compute:  func(ctx context.Context) (any, error) { return compute(ctx, key) },
		})
	}
	w.WarmCustom(ctx, specs)
}

// WarmCustom warms a batch of heterogeneous specs. It blocks until the batch
// finishes.
func (w *Warmer) WarmCustom(ctx context.Context, specs []WarmSpec) {
	if !w.enabled {
		w.logger.Debug("cache warming disabled, skipping batch", zap.Int("specs", len(specs)))
		return
	}

	g := &errgroup.Group{}
	g.SetLimit(w.concurrency)

	scheduled := 0
	for _, spec := range specs {
		spec := spec
		if spec.Key == "" || spec.Compute == nil {
			continue
		}
		if !w.begin(spec.Key) {
			w.logger.Debug("key already being warmed", zap.String("key", spec.Key))
			continue
		}
		scheduled++
		g.Go(func() error {
			defer w.end(spec.Key)
			w.warmOne(ctx, spec)
			return nil
		})
	}
	g.Wait()

	w.logger.Debug("warming batch finished",
		zap.Int("specs", len(specs)), zap.Int("scheduled", scheduled))
}

func (w *Warmer) warmOne(ctx context.Context, spec WarmSpec) {
	category := spec.Category
	if category == "" {
		category = CategoryDefault
	}

	if w.cache.Exists(ctx, spec.Key, category) {
		w.logger.Debug("key already cached, skipping warm",
			zap.String("key", spec.Key), zap.String("category", category))
		return
	}

	if spec.TTL > 0 {
		value, err := spec.Compute(ctx)
		if err != nil {
			w.rec.RecordError("warming_error")
			w.logger.Warn("cache warming failed",
				zap.String("key", spec.Key), zap.String("category", category), zap.Error(err))
			return
		}
		if value != nil {
			w.cache.l1.SetWithTTL(l1Key(spec.Key, category), value, spec.TTL)
			w.cache.l2.Set(ctx, spec.Key, value, spec.TTL, category)
		}
	} else {
		if _, err := w.cache.Get(ctx, spec.Key, category, spec.Compute); err != nil {
			w.rec.RecordError("warming_error")
			w.logger.Warn("cache warming failed",
				zap.String("key", spec.Key), zap.String("category", category), zap.Error(err))
			return
		}
	}

	w.rec.RecordWarmingOperation()
	w.logger.Debug("warmed cache key",
		zap.String("key", spec.Key), zap.String("category", category))
}

// RunPeriodic warms the specs produced by source every interval until the
// context is cancelled. It runs one batch immediately.
func (w *Warmer) RunPeriodic(ctx context.Context, interval time.Duration, source func(ctx context.Context) []WarmSpec) {
	if !w.enabled {
		w.logger.Info("cache warming disabled, periodic loop not started")
		return
	}

	w.logger.Info("starting periodic cache warming", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.WarmCustom(ctx, source(ctx))
		select {
		case <-ctx.Done():
			w.logger.Info("periodic cache warming stopped")
			return
		case <-ticker.C:
		}
	}
}

// Status returns the warmer's live state. At most ten active keys are listed.
func (w *Warmer) Status() WarmingStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]string, 0, len(w.inflight))
	for k := range w.inflight {
		if len(keys) == 10 {
			break
		}
		keys = append(keys, k)
	}
	return WarmingStatus{
		Enabled:     w.enabled,
		Concurrency: w.concurrency,
		ActiveTasks: len(w.inflight),
		ActiveKeys:  keys,
	}
}

// begin marks a key in flight, reporting false if it already was.
func (w *Warmer) begin(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inflight[key]; ok {
		return false
	}
	w.inflight[key] = struct{}{}
	return true
}

func (w *Warmer) end(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, key)
}
