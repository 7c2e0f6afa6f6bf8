package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrClosed indicates the cache has been closed
	ErrClosed = errors.New("cache is closed")

	// ErrFetchFailed indicates the underlying fetch failed; nothing was cached
	ErrFetchFailed = errors.New("cache fetch failed")
)

// FetchError wraps a fetch function failure with the affected key.
type FetchError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch for key %q failed: %v", e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports ErrFetchFailed so callers can match the error class.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc func(ctx context.Context) (any, error)

// Config holds cache configuration.
type Config struct {
	// TTLDefault is used when GetOrFetch is called with a zero TTL.
	TTLDefault time.Duration

	// TTLMin and TTLMax bound every TTL. Out-of-range values are clamped
	// with a logged warning, never rejected.
	TTLMin time.Duration
	TTLMax time.Duration

	// MaxEntries bounds the cache size. Least-recently-used entries are
	// evicted when full. 0 means unbounded.
	MaxEntries int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTLDefault: 300 * time.Second,
		TTLMin:     60 * time.Second,
		TTLMax:     3600 * time.Second,
		MaxEntries: 0,
	}
}

// Cache is an in-memory TTL cache with per-key stampede prevention.
// Concurrent GetOrFetch calls for the same key share a single fetch;
// unrelated keys never block each other.
type Cache struct {
	cfg    Config
	logger zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	closed  bool
}

type lruItem struct {
	key   string
	entry *Entry
}

// New creates a cache. Out-of-range configuration is clamped to safe values.
func New(cfg Config, logger zerolog.Logger) *Cache {
	def := DefaultConfig()
	if cfg.TTLMin <= 0 {
		cfg.TTLMin = def.TTLMin
	}
	if cfg.TTLMax < cfg.TTLMin {
		logger.Warn().
			Dur("ttl_max", cfg.TTLMax).
			Dur("ttl_min", cfg.TTLMin).
			Msg("TTL max below min, using default bounds")
		cfg.TTLMin = def.TTLMin
		cfg.TTLMax = def.TTLMax
	}
	if cfg.TTLDefault == 0 {
		cfg.TTLDefault = def.TTLDefault
	}
	cfg.TTLDefault = clamp(cfg.TTLDefault, cfg.TTLMin, cfg.TTLMax, logger)
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = 0
	}

	return &Cache{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// clamp bounds ttl to [min, max], logging a warning when it had to adjust.
func clamp(ttl, min, max time.Duration, logger zerolog.Logger) time.Duration {
	switch {
	case ttl < min:
		logger.Warn().
			Dur("ttl", ttl).
			Dur("ttl_min", min).
			Msg("TTL below minimum, clamping")
		return min
	case ttl > max:
		logger.Warn().
			Dur("ttl", ttl).
			Dur("ttl_max", max).
			Msg("TTL above maximum, clamping")
		return max
	default:
		return ttl
	}
}

// GetOrFetch returns the fresh cached value for key, or invokes fetchFn to
// produce it. Concurrent callers for the same key invoke fetchFn exactly once
// and all receive the same value or the same error. A zero ttl selects the
// configured default; out-of-range TTLs are clamped.
//
// If fetchFn fails, nothing is cached, the error propagates to every waiting
// caller, and the next call for the key retries cleanly.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc) (any, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if ttl == 0 {
		ttl = c.cfg.TTLDefault
	}
	ttl = clamp(ttl, c.cfg.TTLMin, c.cfg.TTLMax, c.logger)

	if v, ok := c.lookup(key); ok {
		CacheHits.Inc()
		return v, nil
	}
	CacheMisses.Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(ctx, key, ttl, fetchFn)
	})

	select {
	case res := <-ch:
		if res.Shared {
			FetchesJoined.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		// The shared fetch keeps running for the other callers; only this
		// caller gives up.
		return nil, fmt.Errorf("awaiting fetch for key %q: %w", key, ctx.Err())
	}
}

// fetch runs under singleflight. A fetch for the same key may have completed
// and stored its value between this caller's lookup miss and the group call
// (singleflight forgets a key the moment its function returns), so the entry
// is re-checked before going outbound.
func (c *Cache) fetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc) (any, error) {
	if v, ok := c.lookup(key); ok {
		CacheHits.Inc()
		return v, nil
	}

	value, err := fetchFn(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("fetch").Inc()
		return nil, &FetchError{Key: key, Err: err}
	}
	if err := c.store(key, value, ttl); err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("cache_key", key).
		Dur("ttl", ttl).
		Msg("Cached fetched value")
	return value, nil
}

// Get returns the fresh cached value for key without fetching.
// Returns ErrCacheMiss if absent or expired.
func (c *Cache) Get(key string) (any, error) {
	if v, ok := c.lookup(key); ok {
		CacheHits.Inc()
		return v, nil
	}
	CacheMisses.Inc()
	return nil, ErrCacheMiss
}

// Set stores value under key with the given TTL, subject to clamping.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.cfg.TTLDefault
	}
	ttl = clamp(ttl, c.cfg.TTLMin, c.cfg.TTLMax, c.logger)
	return c.store(key, value, ttl)
}

// Invalidate removes key from the cache and forgets any in-flight fetch so a
// subsequent GetOrFetch starts fresh.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
		CacheSize.Set(float64(len(c.entries)))
	}
	c.mu.Unlock()

	c.group.Forget(key)
}

// Purge removes every expired entry and returns how many were dropped.
// Expired entries are otherwise removed lazily on lookup.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, el := range c.entries {
		if el.Value.(*lruItem).entry.IsExpired() {
			c.order.Remove(el)
			delete(c.entries, key)
			n++
		}
	}
	if n > 0 {
		CacheExpirations.Add(float64(n))
		CacheSize.Set(float64(len(c.entries)))
	}
	return n
}

// Len returns the number of entries currently held, including expired entries
// not yet lazily removed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close marks the cache closed. Subsequent GetOrFetch and Set calls fail with
// ErrClosed; reads of existing entries keep working during shutdown.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// lookup returns the fresh value for key. Expired entries are removed so the
// caller proceeds to a refresh.
func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	item := el.Value.(*lruItem)
	if item.entry.IsExpired() {
		c.order.Remove(el)
		delete(c.entries, key)
		CacheExpirations.Inc()
		CacheSize.Set(float64(len(c.entries)))
		return nil, false
	}
	c.order.MoveToFront(el)
	return item.entry.Value, true
}

// store inserts or replaces the entry for key, evicting the least-recently
// used entry when the capacity bound is reached.
func (c *Cache) store(key string, value any, ttl time.Duration) error {
	now := time.Now()
	entry := &Entry{
		Value:    value,
		CachedAt: now,
		Expires:  now.Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruItem).entry = entry
		c.order.MoveToFront(el)
		return nil
	}

	if c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruItem).key)
			CacheEvictions.Inc()
		}
	}

	c.entries[key] = c.order.PushFront(&lruItem{key: key, entry: entry})
	CacheSize.Set(float64(len(c.entries)))
	return nil
}
