package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testConfig returns a config with tight TTL bounds suitable for fast tests.
func testConfig() Config {
	return Config{
		TTLDefault: 100 * time.Millisecond,
		TTLMin:     time.Millisecond,
		TTLMax:     time.Hour,
	}
}

func newTestCache(cfg Config) *Cache {
	return New(cfg, zerolog.Nop())
}

func TestCache_GetOrFetch_CachesValue(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
		if err != nil {
			t.Fatalf("GetOrFetch failed: %v", err)
		}
		if v != "value" {
			t.Errorf("GetOrFetch = %v, want %q", v, "value")
		}
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times, want 1", got)
	}
}

func TestCache_GetOrFetch_ExpiryTriggersRefetch(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}

	v, err := c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetch)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if v != 1 {
		t.Errorf("first fetch = %v, want 1", v)
	}

	// Still fresh: no additional outbound call.
	v, err = c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetch)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if v != 1 {
		t.Errorf("fresh read = %v, want cached 1", v)
	}

	time.Sleep(30 * time.Millisecond)

	// Expired: exactly one new call, never the stale value.
	v, err = c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetch)
	if err != nil {
		t.Fatalf("GetOrFetch after expiry failed: %v", err)
	}
	if v != 2 {
		t.Errorf("read after expiry = %v, want refetched 2", v)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fetch called %d times, want 2", got)
	}
}

func TestCache_GetOrFetch_Stampede(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	const concurrency = 20
	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, concurrency)
	errs := make([]error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(ctx, "hot", time.Minute, fetch)
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times under concurrent misses, want 1", got)
	}
	for i := 0; i < concurrency; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d got error: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("caller %d got %v, want %q", i, results[i], "shared")
		}
	}
}

func TestCache_GetOrFetch_UnrelatedKeysNotBlocked(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	slowStarted := make(chan struct{})
	release := make(chan struct{})

	go c.GetOrFetch(ctx, "slow", time.Minute, func(ctx context.Context) (any, error) {
		close(slowStarted)
		<-release
		return "slow", nil
	})

	<-slowStarted

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := c.GetOrFetch(ctx, "fast", time.Minute, func(ctx context.Context) (any, error) {
			return "fast", nil
		})
		if err != nil || v != "fast" {
			t.Errorf("fast key GetOrFetch = %v, %v", v, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fetch for unrelated key was blocked by an in-flight fetch")
	}
	close(release)
}

func TestCache_GetOrFetch_ErrorPropagation(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	const concurrency = 5
	fetchErr := errors.New("provider unavailable")
	var calls atomic.Int32

	var wg sync.WaitGroup
	errs := make([]error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (any, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return nil, fetchErr
			})
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times, want 1", got)
	}
	for i, err := range errs {
		if !errors.Is(err, ErrFetchFailed) {
			t.Errorf("caller %d error = %v, want ErrFetchFailed", i, err)
		}
		if !errors.Is(err, fetchErr) {
			t.Errorf("caller %d error does not wrap the fetch error: %v", i, err)
		}
	}

	// Nothing was cached and the key is not poisoned: the next call retries.
	v, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("retry after failed fetch returned error: %v", err)
	}
	if v != "recovered" {
		t.Errorf("retry = %v, want %q", v, "recovered")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fetch called %d times after retry, want 2", got)
	}
}

func TestCache_GetOrFetch_CallerDeadlineWhileJoined(t *testing.T) {
	c := newTestCache(testConfig())

	started := make(chan struct{})
	go c.GetOrFetch(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (any, error) {
		t.Error("joined caller must not start a second fetch")
		return nil, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := newTestCache(testConfig())

	if err := c.Set("k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := c.Get("k"); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}

	c.Invalidate("k")

	if _, err := c.Get("k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after Invalidate = %v, want ErrCacheMiss", err)
	}
}

func TestCache_LRUEviction(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 2
	c := newTestCache(cfg)

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(k, k, time.Minute); err != nil {
			t.Fatalf("Set(%q) failed: %v", k, err)
		}
	}

	if got := c.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if _, err := c.Get("a"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("oldest entry should have been evicted, Get(a) = %v", err)
	}
	if _, err := c.Get("c"); err != nil {
		t.Errorf("newest entry missing: %v", err)
	}
}

func TestCache_FetchRechecksBeforeOutboundCall(t *testing.T) {
	c := newTestCache(testConfig())

	if err := c.Set("k", "stored", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// A caller whose lookup missed just before a concurrent fetch stored the
	// value lands here after that fetch returned; it must serve the stored
	// entry instead of launching a second outbound call.
	v, err := c.fetch(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
		t.Error("fetch must not go outbound while a fresh entry exists")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if v != "stored" {
		t.Errorf("fetch = %v, want the stored value", v)
	}
}

func TestCache_Purge(t *testing.T) {
	c := newTestCache(testConfig())

	if err := c.Set("short", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set("long", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if got := c.Purge(); got != 1 {
		t.Errorf("Purge dropped %d entries, want 1", got)
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Len after Purge = %d, want 1", got)
	}
	if _, err := c.Get("long"); err != nil {
		t.Errorf("fresh entry was purged: %v", err)
	}
}

func TestCache_Close(t *testing.T) {
	c := newTestCache(testConfig())
	c.Close()

	_, err := c.GetOrFetch(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
		return "v", nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("GetOrFetch after Close = %v, want ErrClosed", err)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		ttl      time.Duration
		expected time.Duration
	}{
		{"within bounds", 5 * time.Minute, 5 * time.Minute},
		{"below minimum", 10 * time.Second, time.Minute},
		{"above maximum", 2 * time.Hour, time.Hour},
		{"at minimum", time.Minute, time.Minute},
		{"at maximum", time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.ttl, time.Minute, time.Hour, zerolog.Nop())
			if got != tt.expected {
				t.Errorf("clamp(%v) = %v, want %v", tt.ttl, got, tt.expected)
			}
		})
	}
}
