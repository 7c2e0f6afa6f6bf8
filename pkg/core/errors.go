package core

import (
	"errors"

	"github.com/tuibird/tracker-core/pkg/pool"
	"github.com/tuibird/tracker-core/pkg/ratelimit"
)

// Retryable reports whether err describes transient resource pressure a
// caller may retry after backing off: pool exhaustion, a spent rate budget,
// or provider-signalled throttling. Callers translating errors for clients
// map these to "try again later" responses.
func Retryable(err error) bool {
	return errors.Is(err, pool.ErrExhausted) ||
		errors.Is(err, ratelimit.ErrLimitExceeded) ||
		errors.Is(err, ratelimit.ErrExternallyLimited)
}
