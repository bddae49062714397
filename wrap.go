package lookupcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/lookupcache/codec"
)

// CachedOptions configures a Cached wrapper.
type CachedOptions struct {
	// Category selects the TTL class; empty means the default category.
	Category string

	// KeyPrefix is prepended to every key the key function produces.
	KeyPrefix string

	// DirectOnCacheError falls back to calling the wrapped function directly
	// when the cached value is corrupt or has an unexpected type, instead of
	// returning an error.
	DirectOnCacheError bool
}

// Cached wraps a compute function with cache lookups. The returned function
// checks the cache under opts.KeyPrefix+keyFn() and computes on a miss.
//
// Values round-trip through the cache's serialization, so T must survive it:
// strings, int64, float64, bool, registered structs and the common composite
// types all work. A cached value that does not assert to T is treated as a
// cache error.
func Cached[T any](c *MultiLevelCache, opts CachedOptions, keyFn func() string, compute func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	category := opts.Category
	if category == "" {
		category = CategoryDefault
	}

	return func(ctx context.Context) (T, error) {
		var zero T
		key := opts.KeyPrefix + keyFn()

		v, err := c.Get(ctx, key, category, func(ctx context.Context) (any, error) {
			return compute(ctx)
		})
		if err != nil {
			if opts.DirectOnCacheError && errors.Is(err, codec.ErrDecode) {
				c.logger.Warn("cache error, executing directly")
				return compute(ctx)
			}
			return zero, err
		}
		if v == nil {
			return zero, nil
		}

		typed, ok := v.(T)
		if !ok {
			if opts.DirectOnCacheError {
				return compute(ctx)
			}
			return zero, fmt.Errorf("lookupcache: cached value for %q has type %T", key, v)
		}
		return typed, nil
	}
}
