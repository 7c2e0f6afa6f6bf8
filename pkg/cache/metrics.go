package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_cache_hits_total",
			Help: "Total number of fresh cache hits",
		},
	)

	// CacheMisses tracks cache misses (absent or expired)
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheExpirations tracks entries lazily removed on expired reads
	CacheExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_cache_expirations_total",
			Help: "Total number of entries removed after TTL expiry",
		},
	)

	// CacheEvictions tracks LRU evictions under the capacity bound
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_cache_evictions_total",
			Help: "Total number of least-recently-used evictions",
		},
	)

	// FetchesJoined tracks callers that joined another caller's in-flight fetch
	FetchesJoined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_cache_fetches_joined_total",
			Help: "Total number of callers coalesced onto an in-flight fetch",
		},
	)

	// CacheSize tracks the current number of entries
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_cache_entries",
			Help: "Current number of cache entries",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "fetch"
	)
)
