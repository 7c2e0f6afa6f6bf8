// Package ratelimit implements a token-bucket budget gating outbound calls to
// a rate-limited provider, with an adaptive cool-down when the provider itself
// signals throttling.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limiting.
var (
	permitsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_ratelimit_permits_granted_total",
		Help: "Total number of rate limiter permits granted",
	})

	permitsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_ratelimit_permits_rejected_total",
		Help: "Total number of rate limiter permits rejected or timed out",
	})

	cooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_ratelimit_cooldowns_total",
		Help: "Total number of cool-downs entered after provider throttling",
	})

	cooldownActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_ratelimit_cooldown_active",
		Help: "1 while the limiter runs at the reduced cool-down rate",
	})

	permitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limiter permit",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	})
)

var (
	// ErrLimitExceeded is returned when the local call budget is exhausted
	// and no token became available within the wait bound.
	ErrLimitExceeded = errors.New("rate limit exceeded")

	// ErrExternallyLimited marks provider-signalled throttling. Callers
	// return it from gated calls to trigger the limiter's cool-down.
	ErrExternallyLimited = errors.New("provider rate limited")
)

// Config holds rate limiter configuration.
type Config struct {
	// Capacity is the bucket size: the maximum initial burst of calls.
	Capacity int

	// RefillPerSecond is the sustained token refill rate.
	RefillPerSecond float64

	// MaxWait bounds how long a blocking Acquire may wait for a token when
	// the caller's context carries no tighter deadline.
	MaxWait time.Duration

	// CooldownFactor is the multiplier applied to the refill rate while in
	// cool-down after provider-signalled throttling.
	CooldownFactor float64

	// CooldownWindow is how long the reduced rate applies. Repeated
	// throttle signals extend the window.
	CooldownWindow time.Duration
}

// DefaultConfig returns the default rate limiter configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:        5,
		RefillPerSecond: 1,
		MaxWait:         10 * time.Second,
		CooldownFactor:  0.25,
		CooldownWindow:  30 * time.Second,
	}
}

// Limiter gates outbound calls with a token bucket. Each granted call
// consumes one token; tokens refill at the configured rate up to capacity and
// are never driven negative.
type Limiter struct {
	cfg    Config
	logger zerolog.Logger
	bucket *rate.Limiter

	mu            sync.Mutex
	cooldownUntil time.Time
	cooldownTimer *time.Timer
}

// New creates a limiter. Out-of-range configuration is replaced by defaults
// with a logged warning, never rejected.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		if cfg.Capacity < 0 {
			logger.Warn().Int("capacity", cfg.Capacity).Msg("Rate capacity out of range, using default")
		}
		cfg.Capacity = def.Capacity
	}
	if cfg.RefillPerSecond <= 0 {
		if cfg.RefillPerSecond < 0 {
			logger.Warn().Float64("refill", cfg.RefillPerSecond).Msg("Refill rate out of range, using default")
		}
		cfg.RefillPerSecond = def.RefillPerSecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.CooldownFactor <= 0 || cfg.CooldownFactor >= 1 {
		cfg.CooldownFactor = def.CooldownFactor
	}
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = def.CooldownWindow
	}

	return &Limiter{
		cfg:    cfg,
		logger: logger,
		bucket: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
	}
}

// Acquire blocks until a token is available, bounded by MaxWait and the
// caller's deadline. Budget exhaustion within the bound is reported as
// ErrLimitExceeded.
func (l *Limiter) Acquire(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.MaxWait)
		defer cancel()
	}

	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		permitsRejected.Inc()
		return fmt.Errorf("%w: %w", ErrLimitExceeded, err)
	}
	permitWaitSeconds.Observe(time.Since(start).Seconds())
	permitsGranted.Inc()
	return nil
}

// TryAcquire consumes a token immediately if one is available.
func (l *Limiter) TryAcquire() bool {
	if l.bucket.Allow() {
		permitsGranted.Inc()
		return true
	}
	permitsRejected.Inc()
	return false
}

// NotifyThrottled puts the limiter into cool-down after the provider signalled
// throttling: the effective refill rate drops by CooldownFactor for
// CooldownWindow, then reverts to the configured rate. A signal during an
// active cool-down extends the window.
func (l *Limiter) NotifyThrottled() {
	l.mu.Lock()
	defer l.mu.Unlock()

	reduced := rate.Limit(l.cfg.RefillPerSecond * l.cfg.CooldownFactor)
	extending := time.Now().Before(l.cooldownUntil)

	l.bucket.SetLimit(reduced)
	l.cooldownUntil = time.Now().Add(l.cfg.CooldownWindow)
	if l.cooldownTimer != nil {
		l.cooldownTimer.Stop()
	}
	l.cooldownTimer = time.AfterFunc(l.cfg.CooldownWindow, l.restore)

	cooldownsTotal.Inc()
	cooldownActive.Set(1)
	l.logger.Warn().
		Float64("reduced_rate", float64(reduced)).
		Dur("window", l.cfg.CooldownWindow).
		Bool("extended", extending).
		Msg("Provider throttling signalled, entering cool-down")
}

// InCooldown reports whether the limiter currently runs at the reduced rate.
func (l *Limiter) InCooldown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Now().Before(l.cooldownUntil)
}

// Rate returns the current effective refill rate in tokens per second.
func (l *Limiter) Rate() float64 {
	return float64(l.bucket.Limit())
}

// Close stops the cool-down timer. The limiter itself needs no teardown.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cooldownTimer != nil {
		l.cooldownTimer.Stop()
		l.cooldownTimer = nil
	}
}

// restore reverts to the configured rate once the cool-down window passed.
func (l *Limiter) restore() {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A later throttle signal may have extended the window after this timer
	// was scheduled.
	if time.Now().Before(l.cooldownUntil) {
		return
	}

	l.bucket.SetLimit(rate.Limit(l.cfg.RefillPerSecond))
	l.cooldownUntil = time.Time{}
	cooldownActive.Set(0)
	l.logger.Info().
		Float64("rate", l.cfg.RefillPerSecond).
		Msg("Cool-down ended, configured rate restored")
}
