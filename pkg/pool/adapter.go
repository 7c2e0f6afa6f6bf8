package pool

import (
	"context"
	"sync/atomic"
)

// PooledOpener adapts a Pool to the Driver open/close contract. Call sites
// written against Driver keep their open-use-close flow unchanged while
// acquisition and release go through the pool underneath: Open acquires a
// pooled connection, and Close on the returned handle releases it instead of
// closing the store handle.
type PooledOpener struct {
	pool *Pool
}

// NewPooledOpener wraps a pool in the Driver contract.
func NewPooledOpener(p *Pool) *PooledOpener {
	return &PooledOpener{pool: p}
}

// Open acquires a connection from the pool.
func (o *PooledOpener) Open(ctx context.Context) (Conn, error) {
	pc, err := o.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &leasedConn{pc: pc, pool: o.pool}, nil
}

// leasedConn is the handle PooledOpener gives direct-connect call sites.
// Close releases the lease; it is safe to call more than once.
type leasedConn struct {
	pc     *PooledConn
	pool   *Pool
	closed atomic.Bool
}

// Ping validates the leased connection.
func (l *leasedConn) Ping(ctx context.Context) error {
	err := l.pc.Conn().Ping(ctx)
	if err != nil {
		l.pc.MarkBroken()
	}
	return err
}

// Close releases the connection back to the pool.
func (l *leasedConn) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.pool.Release(l.pc)
}
