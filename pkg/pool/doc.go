// Package pool provides a bounded pool of reusable embedded-store connections.
//
// The pool hands out exclusive, validated connections under a hard concurrency
// bound:
//
//   - Capacity bounded to [1, 20] connections, created lazily up to capacity
//   - Validation ping on acquire; broken connections are discarded and
//     replaced on a future acquire, never handed back to callers
//   - Acquisition waits are deadline-bounded; exhaustion surfaces as the
//     typed, retryable ErrExhausted
//   - Release on every exit path via WithConn scoped acquisition
//   - Prometheus metrics for in-use count, waiters, timeouts and discards
//
// # Basic Usage
//
//	p := pool.New(driver, pool.DefaultConfig(), logger)
//	defer p.Close()
//
//	err := p.WithConn(ctx, func(ctx context.Context, conn pool.Conn) error {
//		return useConn(ctx, conn)
//	})
//
// # Direct-connect call sites
//
// PooledOpener satisfies the same open/close contract as a store driver, so
// call sites written against Driver gain pooling without modification: Open
// acquires from the pool and Close on the returned handle releases it.
package pool
