package pool

import (
	"context"
	"sync"
)

// Driver opens embedded-store connections. The pool is agnostic to query
// semantics; it only opens, validates and closes handles.
type Driver interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is one embedded-store handle.
type Conn interface {
	// Ping validates the handle is usable.
	Ping(ctx context.Context) error

	// Close releases the underlying handle.
	Close() error
}

// State is the lifecycle state of a pooled connection.
type State int

const (
	// StateIdle means the connection is in the pool's free list.
	StateIdle State = iota

	// StateInUse means the connection is held by exactly one caller.
	StateInUse

	// StateBroken means the connection failed and will be discarded on release.
	StateBroken
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// PooledConn wraps one store handle. It is owned exclusively by the pool and
// handed to at most one caller at a time.
type PooledConn struct {
	conn Conn

	mu    sync.Mutex
	state State
}

// Conn returns the underlying store handle.
func (c *PooledConn) Conn() Conn {
	return c.conn
}

// State returns the current lifecycle state.
func (c *PooledConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkBroken flags the connection so the pool discards it on release instead
// of returning it to the free list.
func (c *PooledConn) MarkBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateBroken
}

func (c *PooledConn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// transition moves the connection from one state to another, reporting whether
// the connection was in the expected state.
func (c *PooledConn) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}
