// Package lookupcache provides a resilient two-tier lookup cache: a bounded
// in-process tier in front of Redis, with retry, circuit breaking and
// conditional compression on the Redis path.
//
// Reads go L1, then L2, then the caller's compute function; computed values
// are written back to both tiers in the background. Every backend failure
// short of a corrupt stored value degrades to a miss, so a Redis outage slows
// the cache down but never takes callers down with it.
//
// Build a cache from a Config and drive its lifecycle through a Manager, or
// call New and Init directly:
//
//	mgr := lookupcache.NewManager(lookupcache.FromEnv(), nil, logger)
//	if err := mgr.Init(ctx); err != nil {
//		return err
//	}
//	defer mgr.Shutdown(ctx)
//
//	cache, _ := mgr.Cache()
//	v, err := cache.GetBusinessLookup(ctx, "+14155551234", lookupFn)
package lookupcache
