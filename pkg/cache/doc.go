// Package cache provides an in-memory TTL cache for provider responses with
// per-key stampede prevention.
//
// The cache eliminates redundant outbound calls for identical parameterized
// requests within a freshness window:
//
//   - Deterministic fingerprints via Key (sorted path and query params)
//   - Lazy TTL expiry on read, optional LRU capacity bound
//   - At most one in-flight fetch per key under concurrent misses
//   - Fetch errors propagate to every waiting caller and poison nothing
//   - TTL configuration clamped to bounds, never a hard failure
//   - Prometheus metrics for observability
//
// # Basic Usage
//
//	c := cache.New(cache.DefaultConfig(), logger)
//
//	key := cache.Key{
//		Endpoint:    "data/obs/AU-NSW/recent/wanalb1",
//		QueryParams: url.Values{"back": []string{"14"}},
//	}
//
//	value, err := c.GetOrFetch(ctx, key.String(), 5*time.Minute, func(ctx context.Context) (any, error) {
//		return provider.Fetch(ctx, req)
//	})
//
// # Stampede Prevention
//
// Concurrent GetOrFetch calls for one key invoke the fetch function exactly
// once; every caller receives the identical value or the identical error.
// The per-key in-flight marker is released on completion, so a failed fetch
// never blocks a later retry. Unrelated keys are fully independent.
//
// # Metrics
//
//   - tracker_cache_hits_total - Fresh cache hits
//   - tracker_cache_misses_total - Cache misses
//   - tracker_cache_expirations_total - Lazy TTL expirations
//   - tracker_cache_evictions_total - LRU evictions
//   - tracker_cache_fetches_joined_total - Coalesced concurrent fetches
//   - tracker_cache_entries - Current entry count
//   - tracker_cache_errors_total{operation} - Operation errors
package cache
