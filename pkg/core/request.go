package core

import (
	"context"
	"net/url"

	"github.com/tuibird/tracker-core/pkg/cache"
)

// Request identifies one observation query against the provider. Requests
// with equal endpoint and parameters are semantically identical and share a
// cache entry regardless of parameter ordering.
type Request struct {
	// Endpoint is the provider operation, e.g. "recent-observations".
	Endpoint string

	// PathParams are positional parameters such as the region code.
	PathParams map[string]string

	// Query holds optional query parameters.
	Query url.Values
}

// Fingerprint returns the canonical cache key for the request.
func (r Request) Fingerprint() string {
	return cache.Key{
		Endpoint:    r.Endpoint,
		PathParams:  r.PathParams,
		QueryParams: r.Query,
	}.String()
}

// Provider fetches observation data from the upstream API. Implementations
// return ratelimit.ErrExternallyLimited (wrapped or bare) when the provider
// signals throttling, which puts the limiter into cool-down.
type Provider interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}
