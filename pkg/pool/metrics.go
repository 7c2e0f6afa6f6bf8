package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsInUse tracks connections currently held by callers
	ConnectionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_pool_connections_in_use",
		Help: "Number of pooled connections currently held by callers",
	})

	// AcquireWaiters tracks callers currently waiting in Acquire
	AcquireWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_pool_acquire_waiters",
		Help: "Number of callers currently waiting for a pooled connection",
	})

	// ConnectionsOpened tracks connections created by the driver
	ConnectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_pool_connections_opened_total",
		Help: "Total number of store connections opened",
	})

	// BrokenDiscards tracks connections discarded instead of returned to the free list
	BrokenDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_pool_connections_discarded_total",
		Help: "Total number of connections discarded after validation failure or breakage",
	})

	// AcquireTimeouts tracks acquisitions that failed on deadline
	AcquireTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_pool_acquire_timeouts_total",
		Help: "Total number of Acquire calls that timed out awaiting a connection",
	})

	// AcquireWaitSeconds tracks how long callers waited in Acquire
	AcquireWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_pool_acquire_wait_seconds",
		Help:    "Time spent waiting for a pooled connection",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)
