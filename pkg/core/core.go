package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tuibird/tracker-core/pkg/cache"
	"github.com/tuibird/tracker-core/pkg/config"
	"github.com/tuibird/tracker-core/pkg/geocode"
	"github.com/tuibird/tracker-core/pkg/pool"
	"github.com/tuibird/tracker-core/pkg/ratelimit"
	"github.com/tuibird/tracker-core/pkg/store"
)

// Deps are the external collaborators a Core mediates access to. Provider is
// required; Geocoder and Store are optional and their operations fail with
// ErrNotConfigured when absent.
type Deps struct {
	// Provider fetches observation data from the upstream API.
	Provider Provider

	// Geocoder resolves placenames and coordinates.
	Geocoder geocode.Geocoder

	// Store opens handles to the embedded database.
	Store pool.Driver
}

// ErrNotConfigured is returned when an operation needs a collaborator that
// was not supplied at construction.
var ErrNotConfigured = errors.New("collaborator not configured")

// Core is the resource and caching facade. One Core serves all request
// handlers of a process.
type Core struct {
	cfg    config.Config
	logger zerolog.Logger

	provider Provider

	respCache *cache.Cache
	geoCache  *geocode.Cache
	limiter   *ratelimit.Limiter
	connPool  *pool.Pool
	species   *store.SpeciesDB
}

// New creates a Core from clamped configuration and the given collaborators.
func New(cfg config.Config, deps Deps, logger zerolog.Logger) (*Core, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrNotConfigured)
	}
	cfg.Clamp(logger)

	c := &Core{
		cfg:      cfg,
		logger:   logger.With().Str("component", "core").Logger(),
		provider: deps.Provider,
		respCache: cache.New(cache.Config{
			TTLDefault: cfg.CacheTTLDefault,
			TTLMin:     config.CacheTTLMin,
			TTLMax:     config.CacheTTLMax,
			MaxEntries: cfg.CacheMaxEntries,
		}, logger),
		limiter: ratelimit.New(ratelimit.Config{
			Capacity:        cfg.RateCapacity,
			RefillPerSecond: cfg.RateRefillPerSec,
			MaxWait:         cfg.RateMaxWait,
			CooldownFactor:  cfg.CooldownFactor,
			CooldownWindow:  cfg.CooldownWindow,
		}, logger),
	}

	if deps.Geocoder != nil {
		c.geoCache = geocode.New(deps.Geocoder, geocode.Config{TTL: cfg.GeocodeTTL}, logger)
	}
	if deps.Store != nil {
		c.connPool = pool.New(deps.Store, pool.Config{
			Size:           cfg.PoolSize,
			AcquireTimeout: cfg.AcquireTimeout,
		}, logger)
		c.species = store.NewSpeciesDB(c.connPool, logger)
	}

	c.logger.Info().
		Int("pool_size", cfg.PoolSize).
		Dur("cache_ttl", cfg.CacheTTLDefault).
		Int("rate_capacity", cfg.RateCapacity).
		Msg("Resource layer initialized")
	return c, nil
}

// CachedFetch returns the observation response for req, serving from the
// response cache when fresh. On a miss, exactly one provider call is made per
// fingerprint no matter how many handlers ask concurrently; the call consumes
// a rate limiter token before it goes out. A zero ttl selects the configured
// default.
func (c *Core) CachedFetch(ctx context.Context, req Request, ttl time.Duration) ([]byte, error) {
	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()

	v, err := c.respCache.GetOrFetch(ctx, req.Fingerprint(), ttl, func(ctx context.Context) (any, error) {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		body, err := c.provider.Fetch(ctx, req)
		if err != nil {
			if errors.Is(err, ratelimit.ErrExternallyLimited) {
				c.limiter.NotifyThrottled()
			}
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops the cached response for req so the next fetch goes to the
// provider.
func (c *Core) Invalidate(req Request) {
	c.respCache.Invalidate(req.Fingerprint())
}

// GeocodeForward resolves a placename to coordinates through the geocode
// cache.
func (c *Core) GeocodeForward(ctx context.Context, placename string) (geocode.Coordinates, error) {
	if c.geoCache == nil {
		return geocode.Coordinates{}, fmt.Errorf("%w: geocoder", ErrNotConfigured)
	}
	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()
	return c.geoCache.Forward(ctx, placename)
}

// GeocodeReverse resolves coordinates to a placename through the geocode
// cache.
func (c *Core) GeocodeReverse(ctx context.Context, lat, lng float64) (string, error) {
	if c.geoCache == nil {
		return "", fmt.Errorf("%w: geocoder", ErrNotConfigured)
	}
	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()
	return c.geoCache.Reverse(ctx, lat, lng)
}

// AcquireConnection checks a store handle out of the pool. The caller must
// return it with ReleaseConnection; prefer WithConnection for scoped use.
func (c *Core) AcquireConnection(ctx context.Context) (*pool.PooledConn, error) {
	if c.connPool == nil {
		return nil, fmt.Errorf("%w: store", ErrNotConfigured)
	}
	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()
	return c.connPool.Acquire(ctx)
}

// ReleaseConnection returns a store handle to the pool.
func (c *Core) ReleaseConnection(pc *pool.PooledConn) error {
	if c.connPool == nil {
		return fmt.Errorf("%w: store", ErrNotConfigured)
	}
	return c.connPool.Release(pc)
}

// WithConnection runs fn on a pooled store handle and releases it afterwards,
// whether fn succeeded or not.
func (c *Core) WithConnection(ctx context.Context, fn func(ctx context.Context, conn pool.Conn) error) error {
	if c.connPool == nil {
		return fmt.Errorf("%w: store", ErrNotConfigured)
	}
	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()
	return c.connPool.WithConn(ctx, fn)
}

// RateLimitedCall runs fn after consuming a rate limiter token, for provider
// interactions that bypass the response cache. A throttling signal from fn
// puts the limiter into cool-down.
func (c *Core) RateLimitedCall(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()

	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if errors.Is(err, ratelimit.ErrExternallyLimited) {
		c.limiter.NotifyThrottled()
	}
	return err
}

// Species returns the species lookup backed by the pooled store.
func (c *Core) Species() (*store.SpeciesDB, error) {
	if c.species == nil {
		return nil, fmt.Errorf("%w: store", ErrNotConfigured)
	}
	return c.species, nil
}

// PoolStats reports the connection pool's current occupancy.
func (c *Core) PoolStats() pool.Stats {
	if c.connPool == nil {
		return pool.Stats{}
	}
	return c.connPool.Stats()
}

// InCooldown reports whether the limiter currently runs at the reduced
// cool-down rate.
func (c *Core) InCooldown() bool {
	return c.limiter.InCooldown()
}

// Close releases every owned resource. Collaborators from Deps are left open.
func (c *Core) Close() error {
	c.respCache.Close()
	if c.geoCache != nil {
		c.geoCache.Close()
	}
	c.limiter.Close()

	var err error
	if c.connPool != nil {
		err = c.connPool.Close()
	}
	c.logger.Info().Msg("Resource layer closed")
	return err
}

// withOpTimeout applies the configured operation deadline when the caller's
// context carries none.
func (c *Core) withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}
