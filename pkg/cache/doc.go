// Package cache provides the pluggable key-value store used for presence
// tracking, auth-token caching and service-level memoisation.
//
// Provider is the abstraction consumed by the rest of notifykit. Two
// implementations ship with the package:
//
//   - MemoryProvider: process-local, backed by a TTL-aware LRUCache.
//   - RedisProvider: shared, backed by github.com/redis/go-redis/v9 with every
//     key namespaced by a prefix so Clear never touches foreign data.
//
// A miss is reported as ErrCacheMiss from Get; the bulk GetMany simply omits
// missing keys. Callers that treat the cache as best-effort (the websocket
// gateway, for instance) log provider errors and carry on.
//
// Memoize wraps a loader function with JSON-encoded caching:
//
//	stats, err := cache.Memoize(ctx, provider, "stats:"+userID, time.Minute,
//	    func(ctx context.Context) (Stats, error) { return store.Stats(ctx, userID) })
package cache
