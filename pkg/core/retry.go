package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_retries_total",
		Help: "Total number of retry attempts on transient resource errors",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_retry_backoff_seconds",
		Help:    "Backoff duration before retry attempts",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted",
	})
)

// ErrRetryExhausted is returned when all retry attempts are exhausted.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryConfig holds the configuration for the opt-in retry helper.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the backoff before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryWithBackoff runs fn with exponential backoff on Retryable errors.
// Core operations never retry internally; callers opt in with this helper
// when a blocking retry is acceptable. Non-retryable errors return
// immediately, and jitter spreads concurrent retries apart.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		retriesTotal.Inc()

		// ±20% jitter.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.Observe(jitter.Seconds())

		logger.Debug().
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Err(err).
			Msg("Retrying after transient resource error")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	retryExhaustedTotal.Inc()
	logger.Warn().Int("max_attempts", cfg.MaxAttempts).Msg("Retry attempts exhausted")
	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
