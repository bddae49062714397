package lookupcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.RedisAddr = mr.Addr()
	cfg.RetryDelay = time.Millisecond

	m := NewManager(cfg, nil, zap.NewNop())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManager_AccessBeforeInit(t *testing.T) {
	m := setupTestManager(t)

	_, err := m.Cache()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = m.HealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = m.Stats()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, m.Initialized())
}

func TestManager_InitIdempotent(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx))
	require.True(t, m.Initialized())

	first, err := m.Cache()
	require.NoError(t, err)

	// Second Init must not replace the cache.
	require.NoError(t, m.Init(ctx))
	second, err := m.Cache()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx))

	_, err := m.Cache()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestManager_EndToEnd(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx))

	cache, err := m.Cache()
	require.NoError(t, err)
	require.True(t, cache.Set(ctx, "k", "v", CategoryDefault))

	health, err := m.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.L1Size)
}
