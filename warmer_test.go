package lookupcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWarmer_SkipsAlreadyCachedKeys(t *testing.T) {
	_, cache := setupTestCache(t)
	ctx := context.Background()

	require.True(t, cache.Set(ctx, "warm_2", "already here", CategoryDefault))

	var computes atomic.Int32
	cache.Warmer().WarmKeys(ctx, CategoryDefault, []string{"warm_1", "warm_2", "warm_3"},
		func(ctx context.Context, key string) (any, error) {
			computes.Add(1)
			return "warmed:" + key, nil
		})

	assert.Equal(t, int32(2), computes.Load(), "cached key must not be recomputed")

	for _, key := range []string{"warm_1", "warm_2", "warm_3"} {
		key := key
		require.Eventually(t, func() bool {
			return cache.Exists(ctx, key, CategoryDefault)
		}, time.Second, 5*time.Millisecond, key)
	}

	assert.Equal(t, uint64(2), cache.GetStats().Efficiency.WarmingOperations)
	assert.Zero(t, cache.Warmer().Status().ActiveTasks)
}

func TestWarmer_DisabledDoesNothing(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.RedisAddr = mr.Addr()
	cfg.WarmingEnabled = false

	cache := New(cfg, nil, zap.NewNop())
	require.NoError(t, cache.Init(context.Background()))
	t.Cleanup(func() { _ = cache.Shutdown(context.Background()) })

	var computes atomic.Int32
	cache.Warmer().WarmKeys(context.Background(), CategoryDefault, []string{"k"},
		func(ctx context.Context, key string) (any, error) {
			computes.Add(1)
			return "v", nil
		})

	assert.Zero(t, computes.Load())
	assert.False(t, cache.Warmer().Status().Enabled)
}

func TestWarmer_DeduplicatesInflightKeys(t *testing.T) {
	_, cache := setupTestCache(t)
	ctx := context.Background()

	release := make(chan struct{})
	var computes atomic.Int32
	spec := WarmSpec{
		Key:      "slow_key",
		Category: CategoryDefault,
		Compute: func(ctx context.Context) (any, error) {
			computes.Add(1)
			<-release
			return "v", nil
		},
	}

	done := make(chan struct{})
	go func() {
		cache.Warmer().WarmCustom(ctx, []WarmSpec{spec})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return cache.Warmer().Status().ActiveTasks == 1
	}, time.Second, time.Millisecond)

	// Second batch for the same key returns without scheduling anything.
	cache.Warmer().WarmCustom(ctx, []WarmSpec{spec})

	close(release)
	<-done

	assert.Equal(t, int32(1), computes.Load(), "in-flight key must not be warmed twice")
	assert.Zero(t, cache.Warmer().Status().ActiveTasks)
}

func TestWarmer_OneFailureDoesNotStopBatch(t *testing.T) {
	_, cache := setupTestCache(t)
	ctx := context.Background()

	specs := []WarmSpec{
		{Key: "ok_1", Category: CategoryDefault, Compute: func(ctx context.Context) (any, error) { return "v1", nil }},
		{Key: "broken", Category: CategoryDefault, Compute: func(ctx context.Context) (any, error) {
			return nil, errors.New("source unavailable")
		}},
		{Key: "ok_2", Category: CategoryDefault, Compute: func(ctx context.Context) (any, error) { return "v2", nil }},
	}
	cache.Warmer().WarmCustom(ctx, specs)

	require.Eventually(t, func() bool {
		return cache.Exists(ctx, "ok_1", CategoryDefault) && cache.Exists(ctx, "ok_2", CategoryDefault)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, cache.Exists(ctx, "broken", CategoryDefault))

	snap := cache.GetStats()
	assert.Equal(t, uint64(2), snap.Efficiency.WarmingOperations)
	assert.Equal(t, uint64(1), snap.Reliability.ErrorTypes["warming_error"])
}

func TestWarmer_CustomTTLOverride(t *testing.T) {
	mr, cache := setupTestCache(t)
	ctx := context.Background()

	cache.Warmer().WarmCustom(ctx, []WarmSpec{{
		Key:      "k",
		Category: CategoryDefault,
		TTL:      45 * time.Second,
		Compute:  func(ctx context.Context) (any, error) { return "v", nil },
	}})

	require.True(t, cache.Exists(ctx, "k", CategoryDefault))
	assert.Equal(t, 45*time.Second, mr.TTL("lookup:default:k"))
}

func TestWarmer_SkipsInvalidSpecs(t *testing.T) {
	_, cache := setupTestCache(t)

	var computes atomic.Int32
	cache.Warmer().WarmCustom(context.Background(), []WarmSpec{
		{Key: "", Compute: func(ctx context.Context) (any, error) { computes.Add(1); return "v", nil }},
		{Key: "no_compute"},
	})
	assert.Zero(t, computes.Load())
}

func TestWarmer_RunPeriodic(t *testing.T) {
	_, cache := setupTestCache(t)

	var batch atomic.Int32
	source := func(ctx context.Context) []WarmSpec {
		n := batch.Add(1)
		return []WarmSpec{{
			Key:      fmt.Sprintf("periodic_%d", n),
			Category: CategoryDefault,
			Compute:  func(ctx context.Context) (any, error) { return n, nil },
		}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.Warmer().RunPeriodic(ctx, 10*time.Millisecond, source)
		close(done)
	}()

	require.Eventually(t, func() bool { return batch.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, cache.GetStats().Efficiency.WarmingOperations, uint64(3))
}
