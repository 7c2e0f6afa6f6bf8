// Package geocode provides a cached geocoding layer on top of a geocoding
// provider. Geocoded locations rarely change, so the cache uses a much longer
// default TTL than the observation response cache.
package geocode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tuibird/tracker-core/pkg/cache"
)

// CoordinatePrecision is the number of decimal places kept when fingerprinting
// coordinates. Four decimals (~11 m) separates distinct sites while deduping
// GPS jitter between readings of the same spot.
const CoordinatePrecision = 4

// DefaultTTL is the default freshness window for geocoding results.
const DefaultTTL = 24 * time.Hour

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Geocoder is the external geocoding capability supplied by a collaborator.
// The cache wraps it and never constructs transport requests itself.
type Geocoder interface {
	// Forward resolves a placename to coordinates.
	Forward(ctx context.Context, placename string) (Coordinates, error)

	// Reverse resolves coordinates to a placename.
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

// Config holds geocode cache configuration.
type Config struct {
	// TTL is the freshness window for geocoding results.
	TTL time.Duration

	// MaxEntries bounds the underlying cache. 0 means unbounded.
	MaxEntries int
}

// DefaultConfig returns the default geocode cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL: DefaultTTL,
	}
}

// Cache caches forward and reverse geocoding lookups with tolerant key
// normalization, reusing the response cache's stampede-free fetch contract.
type Cache struct {
	geocoder Geocoder
	cache    *cache.Cache
	ttl      time.Duration
	logger   zerolog.Logger
}

// New creates a geocode cache around the given geocoder.
func New(geocoder Geocoder, cfg Config, logger zerolog.Logger) *Cache {
	if geocoder == nil {
		panic("geocoder cannot be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	inner := cache.New(cache.Config{
		TTLDefault: cfg.TTL,
		TTLMin:     time.Minute,
		TTLMax:     7 * 24 * time.Hour,
		MaxEntries: cfg.MaxEntries,
	}, logger)

	return &Cache{
		geocoder: geocoder,
		cache:    inner,
		ttl:      cfg.TTL,
		logger:   logger,
	}
}

// Forward resolves a placename to coordinates, serving from cache when fresh.
// Semantically equal placenames ("  New York ", "new york") share one entry.
func (c *Cache) Forward(ctx context.Context, placename string) (Coordinates, error) {
	normalized := NormalizePlacename(placename)
	if normalized == "" {
		return Coordinates{}, fmt.Errorf("placename is empty")
	}

	key := "geo:fwd:" + normalized
	v, err := c.cache.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context) (any, error) {
		c.logger.Debug().Str("placename", normalized).Msg("Forward geocoding placename")
		return c.geocoder.Forward(ctx, normalized)
	})
	if err != nil {
		return Coordinates{}, err
	}
	return v.(Coordinates), nil
}

// Reverse resolves coordinates to a placename, serving from cache when fresh.
// Coordinates are rounded to CoordinatePrecision decimals before
// fingerprinting, so jittered readings of one site share an entry.
func (c *Cache) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	key := "geo:rev:" + FormatCoordinates(lat, lng)
	v, err := c.cache.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context) (any, error) {
		c.logger.Debug().Float64("lat", lat).Float64("lng", lng).Msg("Reverse geocoding coordinates")
		return c.geocoder.Reverse(ctx, lat, lng)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate removes the cached forward entry for placename.
func (c *Cache) Invalidate(placename string) {
	c.cache.Invalidate("geo:fwd:" + NormalizePlacename(placename))
}

// Close releases the underlying cache.
func (c *Cache) Close() {
	c.cache.Close()
}

// NormalizePlacename case-folds a placename, trims surrounding whitespace and
// collapses inner runs of whitespace to single spaces.
func NormalizePlacename(placename string) string {
	return strings.Join(strings.Fields(strings.ToLower(placename)), " ")
}

// FormatCoordinates renders a coordinate pair at the fingerprint precision.
func FormatCoordinates(lat, lng float64) string {
	return fmt.Sprintf("%.*f,%.*f", CoordinatePrecision, lat, CoordinatePrecision, lng)
}
