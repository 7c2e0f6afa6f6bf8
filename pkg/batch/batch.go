// Package batch provides parallel observation fetching across many regions.
// Each region query runs through the shared caching facade, so repeated batch
// runs only pay for regions whose cache entries expired.
package batch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tuibird/tracker-core/pkg/core"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of regions fetched in parallel.
	// Kept low by default so a cold batch does not drain the rate budget.
	MaxConcurrency int

	// Timeout per region fetch.
	Timeout time.Duration

	// TTL for the cached per-region responses. Zero selects the facade's
	// default.
	TTL time.Duration
}

// DefaultConfig returns safe defaults for a rate-limited provider.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// Fetcher is the caching fetch capability the batch runs over. *core.Core
// satisfies it.
type Fetcher interface {
	CachedFetch(ctx context.Context, req core.Request, ttl time.Duration) ([]byte, error)
}

// Result is the outcome for one region. Err is set when that region failed;
// the other regions' results are unaffected.
type Result struct {
	Region string
	Data   []byte
	Err    error
}

// RegionFetcher fans one endpoint out across many regions.
type RegionFetcher struct {
	fetcher Fetcher
	cfg     Config
	logger  zerolog.Logger
}

// NewRegionFetcher creates a batch fetcher over the given caching facade.
func NewRegionFetcher(fetcher Fetcher, cfg Config, logger zerolog.Logger) *RegionFetcher {
	def := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &RegionFetcher{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.With().Str("component", "batch").Logger(),
	}
}

// FetchRegions fetches endpoint for every region in parallel, bounded by
// MaxConcurrency. Results keep the order of regions. A failed region does not
// abort the rest; the returned error joins all per-region failures and is nil
// when every region succeeded.
func (bf *RegionFetcher) FetchRegions(ctx context.Context, endpoint string, regions []string, query url.Values) ([]Result, error) {
	start := time.Now()
	results := make([]Result, len(regions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.cfg.MaxConcurrency)

	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			regionCtx, cancel := context.WithTimeout(ctx, bf.cfg.Timeout)
			defer cancel()

			data, err := bf.fetcher.CachedFetch(regionCtx, core.Request{
				Endpoint:   endpoint,
				PathParams: map[string]string{"region": region},
				Query:      query,
			}, bf.cfg.TTL)

			results[i] = Result{Region: region, Data: data, Err: err}
			if err != nil {
				bf.logger.Warn().Str("region", region).Err(err).Msg("Region fetch failed")
			}
			// Never abort the group: the other regions still produce data.
			return nil
		})
	}
	// Workers always return nil; per-region failures land in results.
	_ = g.Wait()

	var failed []error
	ok := 0
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Errorf("region %s: %w", r.Region, r.Err))
		} else {
			ok++
		}
	}

	bf.logger.Info().
		Str("endpoint", endpoint).
		Int("regions", len(regions)).
		Int("succeeded", ok).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results, errors.Join(failed...)
}
