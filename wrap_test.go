package lookupcache

import (
	"context"
	"encoding/gob"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/lookupcache/codec"
)

type hoursRecord struct {
	Open  string
	Close string
}

func init() {
	gob.Register(hoursRecord{})
}

func TestCached_ComputesOnceThenServes(t *testing.T) {
	mr, cache := setupTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	fn := Cached(cache, CachedOptions{Category: CategoryBusinessLookup, KeyPrefix: "hours:"},
		func() string { return "+14155551234" },
		func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "9am-5pm", nil
		})

	v, err := fn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9am-5pm", v)

	require.Eventually(t, func() bool {
		return mr.Exists("lookup:business_lookup:hours:+14155551234")
	}, time.Second, 5*time.Millisecond)

	v, err = fn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9am-5pm", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCached_StructRoundTripThroughL2(t *testing.T) {
	_, cache := setupTestCache(t)
	ctx := context.Background()

	want := hoursRecord{Open: "9am", Close: "5pm"}
	require.True(t, cache.Set(ctx, "hours:biz-1", want, CategoryDefault))
	// Force the typed read through the serialized tier.
	cache.l1.Delete(l1Key("hours:biz-1", CategoryDefault))

	fn := Cached(cache, CachedOptions{},
		func() string { return "hours:biz-1" },
		func(ctx context.Context) (hoursRecord, error) {
			t.Fatal("value was cached, compute must not run")
			return hoursRecord{}, nil
		})

	got, err := fn(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCached_CorruptValueIsAnError(t *testing.T) {
	mr, cache := setupTestCache(t)

	require.NoError(t, mr.Set("lookup:default:bad", "garbage"))

	fn := Cached(cache, CachedOptions{},
		func() string { return "bad" },
		func(ctx context.Context) (string, error) { return "fresh", nil })

	_, err := fn(context.Background())
	assert.ErrorIs(t, err, codec.ErrDecode)
}

func TestCached_DirectOnCacheError(t *testing.T) {
	mr, cache := setupTestCache(t)

	require.NoError(t, mr.Set("lookup:default:bad", "garbage"))

	var calls atomic.Int32
	fn := Cached(cache, CachedOptions{DirectOnCacheError: true},
		func() string { return "bad" },
		func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "fresh", nil
		})

	v, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCached_TypeMismatch(t *testing.T) {
	_, cache := setupTestCache(t)
	ctx := context.Background()

	require.True(t, cache.Set(ctx, "k", "a string", CategoryDefault))

	fn := Cached(cache, CachedOptions{},
		func() string { return "k" },
		func(ctx context.Context) (int64, error) { return 42, nil })

	_, err := fn(ctx)
	assert.Error(t, err)

	// With the fallback enabled the wrapped function runs instead.
	fallback := Cached(cache, CachedOptions{DirectOnCacheError: true},
		func() string { return "k" },
		func(ctx context.Context) (int64, error) { return 42, nil })

	v, err := fallback(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}
