// Package testutil provides configurable fakes for the resource layer's
// collaborators: the observation provider, the geocoder and the embedded
// store.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tuibird/tracker-core/pkg/core"
	"github.com/tuibird/tracker-core/pkg/geocode"
	"github.com/tuibird/tracker-core/pkg/pool"
	"github.com/tuibird/tracker-core/pkg/ratelimit"
	"github.com/tuibird/tracker-core/pkg/store"
)

// MockProvider is a configurable fake observation provider.
type MockProvider struct {
	mu        sync.Mutex
	responses map[string][]byte // endpoint -> payload
	err       error
	delay     time.Duration
	throttled bool

	Calls atomic.Int32
}

// NewMockProvider creates a provider that answers every endpoint with a
// generic payload until SetResponse overrides it.
func NewMockProvider() *MockProvider {
	return &MockProvider{responses: make(map[string][]byte)}
}

// SetResponse sets the payload returned for endpoint.
func (p *MockProvider) SetResponse(endpoint string, body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[endpoint] = body
}

// SetError makes every fetch fail with err until reset with nil.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// SetDelay makes every fetch take at least d.
func (p *MockProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// SetThrottled makes every fetch fail with a provider throttling signal.
func (p *MockProvider) SetThrottled(throttled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.throttled = throttled
}

// Fetch implements core.Provider.
func (p *MockProvider) Fetch(ctx context.Context, req core.Request) ([]byte, error) {
	p.Calls.Add(1)

	p.mu.Lock()
	delay := p.delay
	err := p.err
	throttled := p.throttled
	body, ok := p.responses[req.Endpoint]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if throttled {
		return nil, fmt.Errorf("provider returned 429: %w", ratelimit.ErrExternallyLimited)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		body = []byte(`{"endpoint":"` + req.Endpoint + `"}`)
	}
	return body, nil
}

// MockGeocoder is a configurable fake geocoder.
type MockGeocoder struct {
	mu     sync.Mutex
	places map[string]geocode.Coordinates
	err    error

	ForwardCalls atomic.Int32
	ReverseCalls atomic.Int32
}

// NewMockGeocoder creates a geocoder with no known places.
func NewMockGeocoder() *MockGeocoder {
	return &MockGeocoder{places: make(map[string]geocode.Coordinates)}
}

// SetPlace registers coordinates for a normalized placename.
func (g *MockGeocoder) SetPlace(placename string, coords geocode.Coordinates) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.places[geocode.NormalizePlacename(placename)] = coords
}

// SetError makes every lookup fail with err until reset with nil.
func (g *MockGeocoder) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Forward implements geocode.Geocoder.
func (g *MockGeocoder) Forward(ctx context.Context, placename string) (geocode.Coordinates, error) {
	g.ForwardCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return geocode.Coordinates{}, g.err
	}
	coords, ok := g.places[geocode.NormalizePlacename(placename)]
	if !ok {
		return geocode.Coordinates{}, fmt.Errorf("unknown place %q", placename)
	}
	return coords, nil
}

// Reverse implements geocode.Geocoder.
func (g *MockGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	g.ReverseCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("place at %s", geocode.FormatCoordinates(lat, lng)), nil
}

// NewTempStore creates a SQLite driver on a file under t.TempDir.
func NewTempStore(t *testing.T) *store.SQLiteDriver {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.db")
	return store.NewSQLiteDriver(path, "wal", zerolog.Nop())
}

// SeedSpecies creates the schema and inserts the given rows over a temporary
// pool on driver.
func SeedSpecies(t *testing.T, driver pool.Driver, species []store.Species) {
	t.Helper()

	p := pool.New(driver, pool.Config{Size: 1}, zerolog.Nop())
	defer p.Close()

	db := store.NewSpeciesDB(p, zerolog.Nop())
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	for _, sp := range species {
		if err := db.Insert(ctx, sp); err != nil {
			t.Fatalf("Insert %s failed: %v", sp.Code, err)
		}
	}
}
