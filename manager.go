package lookupcache

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/lookupcache/stats"
)

// ErrNotInitialized is returned when the cache is used before Init.
var ErrNotInitialized = errors.New("lookupcache: cache not initialized")

// Manager owns a cache's lifecycle: build it once, initialize it once, shut
// it down once. Callers hold the Manager and hand out the cache through it
// instead of sharing a package-level singleton.
type Manager struct {
	mu          sync.Mutex
	config      Config
	collector   *stats.Collector
	logger      *zap.Logger
	cache       *MultiLevelCache
	initialized bool
}

// NewManager creates a manager. Collector and logger may be nil.
func NewManager(config Config, collector *stats.Collector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:    config,
		collector: collector,
		logger:    logger.With(zap.String("component", "cache_manager")),
	}
}

// Init builds and initializes the cache. Calling it again is a no-op.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		m.logger.Warn("cache manager already initialized")
		return nil
	}

	cache := New(m.config, m.collector, m.logger)
	if err := cache.Init(ctx); err != nil {
		return err
	}

	m.cache = cache
	m.initialized = true
	return nil
}

// Shutdown tears the cache down. Only the first call does anything.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	m.initialized = false

	err := m.cache.Shutdown(ctx)
	m.cache = nil
	return err
}

// Initialized reports whether Init has completed and Shutdown has not.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Cache returns the managed cache, or ErrNotInitialized.
func (m *Manager) Cache() (*MultiLevelCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return m.cache, nil
}

// HealthCheck reports the managed cache's health.
func (m *Manager) HealthCheck(ctx context.Context) (HealthReport, error) {
	cache, err := m.Cache()
	if err != nil {
		return HealthReport{}, err
	}
	return cache.HealthCheck(ctx), nil
}

// Stats reports the managed cache's statistics.
func (m *Manager) Stats() (StatsReport, error) {
	cache, err := m.Cache()
	if err != nil {
		return StatsReport{}, err
	}
	return cache.GetStats(), nil
}
