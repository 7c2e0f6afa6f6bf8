// Package cache provides TTL caching of provider responses with per-key
// stampede prevention.
package cache

import (
	"time"
)

// Entry represents a cached value.
type Entry struct {
	// Value is the cached value as produced by the fetch function.
	Value any

	// CachedAt is when the value was stored.
	CachedAt time.Time

	// Expires is when the entry becomes stale.
	Expires time.Time
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
