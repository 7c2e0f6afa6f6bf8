package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tuibird/tracker-core/pkg/config"
	"github.com/tuibird/tracker-core/pkg/geocode"
	"github.com/tuibird/tracker-core/pkg/pool"
	"github.com/tuibird/tracker-core/pkg/ratelimit"
)

// fakeProvider serves canned observation payloads and counts calls.
type fakeProvider struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (p *fakeProvider) Fetch(ctx context.Context, req Request) ([]byte, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return []byte(`{"endpoint":"` + req.Endpoint + `"}`), nil
}

// fakeGeocoder counts lookups.
type fakeGeocoder struct {
	forwardCalls atomic.Int32
}

func (g *fakeGeocoder) Forward(ctx context.Context, placename string) (geocode.Coordinates, error) {
	g.forwardCalls.Add(1)
	return geocode.Coordinates{Lat: -33.8688, Lng: 151.2093}, nil
}

func (g *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	return "sydney", nil
}

// fakeStoreConn and fakeStoreDriver stand in for SQLite handles.
type fakeStoreConn struct{}

func (c *fakeStoreConn) Ping(ctx context.Context) error { return nil }
func (c *fakeStoreConn) Close() error                   { return nil }

type fakeStoreDriver struct{}

func (d *fakeStoreDriver) Open(ctx context.Context) (pool.Conn, error) {
	return &fakeStoreConn{}, nil
}

func newTestCore(t *testing.T, cfg config.Config, deps Deps) *Core {
	t.Helper()
	if deps.Provider == nil {
		deps.Provider = &fakeProvider{}
	}
	c, err := New(cfg, deps, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_RequiresProvider(t *testing.T) {
	if _, err := New(config.Default(), Deps{}, zerolog.Nop()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("New without provider = %v, want ErrNotConfigured", err)
	}
}

func TestCachedFetch_ServesFromCache(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestCore(t, config.Default(), Deps{Provider: provider})
	ctx := context.Background()

	req := Request{
		Endpoint:   "recent-observations",
		PathParams: map[string]string{"region": "AU-NSW"},
		Query:      url.Values{"back": {"14"}},
	}

	first, err := c.CachedFetch(ctx, req, 0)
	if err != nil {
		t.Fatalf("first CachedFetch failed: %v", err)
	}

	// Same parameters in different order hit the same entry.
	second, err := c.CachedFetch(ctx, Request{
		Endpoint:   "recent-observations",
		Query:      url.Values{"back": {"14"}},
		PathParams: map[string]string{"region": "AU-NSW"},
	}, 0)
	if err != nil {
		t.Fatalf("second CachedFetch failed: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("cache returned different payloads: %q vs %q", first, second)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}

func TestCachedFetch_ConcurrentCallersShareOneFetch(t *testing.T) {
	provider := &fakeProvider{delay: 50 * time.Millisecond}
	c := newTestCore(t, config.Default(), Deps{Provider: provider})

	req := Request{Endpoint: "recent-observations", PathParams: map[string]string{"region": "AU-NSW"}}

	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.CachedFetch(context.Background(), req, 0); err != nil {
				t.Errorf("CachedFetch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := provider.calls.Load(); got != 1 {
		t.Errorf("provider called %d times for one fingerprint, want 1", got)
	}
}

func TestCachedFetch_ConsumesRateBudget(t *testing.T) {
	cfg := config.Default()
	cfg.RateCapacity = 2
	cfg.RateRefillPerSec = 0.001
	cfg.OpTimeout = 100 * time.Millisecond
	c := newTestCore(t, cfg, Deps{Provider: &fakeProvider{}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := Request{Endpoint: fmt.Sprintf("endpoint-%d", i)}
		if _, err := c.CachedFetch(ctx, req, 0); err != nil {
			t.Fatalf("CachedFetch %d failed: %v", i, err)
		}
	}

	// Third distinct request needs a third token; the budget is spent.
	_, err := c.CachedFetch(ctx, Request{Endpoint: "endpoint-2"}, 0)
	if !errors.Is(err, ratelimit.ErrLimitExceeded) {
		t.Fatalf("CachedFetch past budget = %v, want ErrLimitExceeded", err)
	}
	if !Retryable(err) {
		t.Error("budget exhaustion should be retryable")
	}

	// Cache hits never consume tokens.
	if _, err := c.CachedFetch(ctx, Request{Endpoint: "endpoint-0"}, 0); err != nil {
		t.Errorf("cache hit should bypass the limiter, got %v", err)
	}
}

func TestCachedFetch_ThrottleSignalEntersCooldown(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("status 429: %w", ratelimit.ErrExternallyLimited)}
	c := newTestCore(t, config.Default(), Deps{Provider: provider})
	ctx := context.Background()

	req := Request{Endpoint: "recent-observations"}
	if _, err := c.CachedFetch(ctx, req, 0); !errors.Is(err, ratelimit.ErrExternallyLimited) {
		t.Fatalf("CachedFetch = %v, want ErrExternallyLimited", err)
	}
	if !c.InCooldown() {
		t.Error("throttle signal from the provider should enter cool-down")
	}

	// Errors are not cached: the next call reaches the provider again.
	provider.err = nil
	if _, err := c.CachedFetch(ctx, req, 0); err != nil {
		t.Fatalf("CachedFetch after provider recovered failed: %v", err)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestCore(t, config.Default(), Deps{Provider: provider})
	ctx := context.Background()
	req := Request{Endpoint: "recent-observations"}

	if _, err := c.CachedFetch(ctx, req, 0); err != nil {
		t.Fatalf("CachedFetch failed: %v", err)
	}
	c.Invalidate(req)
	if _, err := c.CachedFetch(ctx, req, 0); err != nil {
		t.Fatalf("CachedFetch after Invalidate failed: %v", err)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("provider called %d times, want 2 after invalidation", got)
	}
}

func TestGeocode_NotConfigured(t *testing.T) {
	c := newTestCore(t, config.Default(), Deps{})

	if _, err := c.GeocodeForward(context.Background(), "sydney"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("GeocodeForward = %v, want ErrNotConfigured", err)
	}
	if _, err := c.GeocodeReverse(context.Background(), -33.8, 151.2); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("GeocodeReverse = %v, want ErrNotConfigured", err)
	}
}

func TestGeocodeForward_Cached(t *testing.T) {
	geocoder := &fakeGeocoder{}
	c := newTestCore(t, config.Default(), Deps{Geocoder: geocoder})
	ctx := context.Background()

	for _, placename := range []string{"Sydney", "  sydney "} {
		coords, err := c.GeocodeForward(ctx, placename)
		if err != nil {
			t.Fatalf("GeocodeForward(%q) failed: %v", placename, err)
		}
		if coords.Lat == 0 {
			t.Errorf("GeocodeForward(%q) returned zero coordinates", placename)
		}
	}

	if got := geocoder.forwardCalls.Load(); got != 1 {
		t.Errorf("geocoder called %d times for equal placenames, want 1", got)
	}
}

func TestWithConnection(t *testing.T) {
	c := newTestCore(t, config.Default(), Deps{Store: &fakeStoreDriver{}})

	var used bool
	err := c.WithConnection(context.Background(), func(ctx context.Context, conn pool.Conn) error {
		used = true
		return conn.Ping(ctx)
	})
	if err != nil {
		t.Fatalf("WithConnection failed: %v", err)
	}
	if !used {
		t.Error("callback was not invoked")
	}
	if stats := c.PoolStats(); stats.InUse != 0 {
		t.Errorf("InUse after WithConnection = %d, want 0", stats.InUse)
	}
}

func TestAcquireRelease_Connection(t *testing.T) {
	c := newTestCore(t, config.Default(), Deps{Store: &fakeStoreDriver{}})

	pc, err := c.AcquireConnection(context.Background())
	if err != nil {
		t.Fatalf("AcquireConnection failed: %v", err)
	}
	if got := c.PoolStats().InUse; got != 1 {
		t.Errorf("InUse = %d, want 1", got)
	}
	if err := c.ReleaseConnection(pc); err != nil {
		t.Fatalf("ReleaseConnection failed: %v", err)
	}
}

func TestRateLimitedCall_ThrottleEntersCooldown(t *testing.T) {
	c := newTestCore(t, config.Default(), Deps{})

	err := c.RateLimitedCall(context.Background(), func(ctx context.Context) error {
		return ratelimit.ErrExternallyLimited
	})
	if !errors.Is(err, ratelimit.ErrExternallyLimited) {
		t.Fatalf("RateLimitedCall = %v, want ErrExternallyLimited", err)
	}
	if !c.InCooldown() {
		t.Error("throttle signal should enter cool-down")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pool exhausted", pool.ErrExhausted, true},
		{"wrapped pool exhausted", fmt.Errorf("acquire: %w", pool.ErrExhausted), true},
		{"rate limit exceeded", ratelimit.ErrLimitExceeded, true},
		{"externally limited", ratelimit.ErrExternallyLimited, true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
