package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Capacity bounds for the pool.
const (
	MinSize = 1
	MaxSize = 20
)

var (
	// ErrExhausted is returned when no connection became free before the
	// deadline. It is retryable; the pool never retries internally.
	ErrExhausted = errors.New("pool exhausted")

	// ErrClosed is returned when the pool has been closed.
	ErrClosed = errors.New("pool is closed")

	// ErrConnBroken indicates a connection failed validation and was discarded.
	ErrConnBroken = errors.New("connection failed validation")

	// ErrNotAcquired is returned when releasing a connection that is not in use.
	ErrNotAcquired = errors.New("connection is not in use")
)

// Config holds pool configuration.
type Config struct {
	// Size is the maximum number of connections, bounded to [MinSize, MaxSize].
	Size int

	// AcquireTimeout bounds Acquire waits when the caller's context carries
	// no deadline of its own.
	AcquireTimeout time.Duration

	// PingTimeout bounds the validation ping on acquire.
	PingTimeout time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:           5,
		AcquireTimeout: 5 * time.Second,
		PingTimeout:    time.Second,
	}
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Capacity int
	InUse    int
	Idle     int
}

// Pool is a bounded collection of reusable store connections. Connections are
// created lazily up to capacity and validated before being handed out.
type Pool struct {
	driver Driver
	cfg    Config
	logger zerolog.Logger

	idle chan *PooledConn

	mu      sync.Mutex
	created int
	closed  bool
}

// New creates a pool. An out-of-range size is clamped to [MinSize, MaxSize]
// with a logged warning.
func New(driver Driver, cfg Config, logger zerolog.Logger) *Pool {
	if driver == nil {
		panic("pool driver cannot be nil")
	}

	def := DefaultConfig()
	if cfg.Size == 0 {
		cfg.Size = def.Size
	}
	if cfg.Size < MinSize || cfg.Size > MaxSize {
		clamped := cfg.Size
		if clamped < MinSize {
			clamped = MinSize
		}
		if clamped > MaxSize {
			clamped = MaxSize
		}
		logger.Warn().
			Int("requested", cfg.Size).
			Int("clamped", clamped).
			Msg("Pool size out of range, clamping")
		cfg.Size = clamped
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}

	return &Pool{
		driver: driver,
		cfg:    cfg,
		logger: logger,
		idle:   make(chan *PooledConn, cfg.Size),
	}
}

// Acquire blocks until a connection is free or the deadline elapses. When the
// context carries no deadline, the configured AcquireTimeout applies.
// Exhaustion is reported as ErrExhausted and is never silently retried.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	start := time.Now()
	AcquireWaiters.Inc()
	defer AcquireWaiters.Dec()
	defer func() {
		AcquireWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	for {
		if err := ctx.Err(); err != nil {
			AcquireTimeouts.Inc()
			return nil, fmt.Errorf("%w: %w", ErrExhausted, err)
		}

		// Fast path: an idle connection is available.
		select {
		case pc := <-p.idle:
			if p.validate(pc) {
				pc.setState(StateInUse)
				ConnectionsInUse.Inc()
				return pc, nil
			}
			continue
		default:
		}

		// Lazy creation up to capacity. The slot is reserved before the
		// open so the bound holds while the driver call is in flight.
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if p.created < p.cfg.Size {
			p.created++
			p.mu.Unlock()

			conn, err := p.driver.Open(ctx)
			if err != nil {
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
				return nil, fmt.Errorf("open store connection: %w", err)
			}
			ConnectionsOpened.Inc()
			ConnectionsInUse.Inc()
			p.logger.Debug().Msg("Opened new pooled connection")
			return &PooledConn{conn: conn, state: StateInUse}, nil
		}
		p.mu.Unlock()

		// At capacity: wait for a release or the deadline.
		select {
		case pc := <-p.idle:
			if p.validate(pc) {
				pc.setState(StateInUse)
				ConnectionsInUse.Inc()
				return pc, nil
			}
			// Discarded a broken connection; loop to create its replacement.
		case <-ctx.Done():
			AcquireTimeouts.Inc()
			return nil, fmt.Errorf("%w: %w", ErrExhausted, ctx.Err())
		}
	}
}

// Release returns a connection to the free list. A connection marked broken is
// discarded instead; its slot is recreated lazily on a future Acquire.
// Releasing a connection that is not in use is an error.
func (p *Pool) Release(pc *PooledConn) error {
	if pc == nil {
		return ErrNotAcquired
	}

	if pc.transition(StateBroken, StateIdle) {
		p.discard(pc)
		ConnectionsInUse.Dec()
		return nil
	}
	if !pc.transition(StateInUse, StateIdle) {
		return fmt.Errorf("%w: double release", ErrNotAcquired)
	}
	ConnectionsInUse.Dec()

	// The closed check and the send share one critical section: Close drains
	// the free list exactly once, so a handle parked after that drain would
	// never be closed.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.discard(pc)
		return nil
	}
	select {
	case p.idle <- pc:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		// Free list full can only mean pool misuse; drop the handle rather
		// than blocking the caller.
		p.discard(pc)
	}
	return nil
}

// WithConn runs fn with an acquired connection, releasing it on every exit
// path. If fn reports a broken connection via MarkBroken, the discard happens
// on release as usual.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Release(pc); err != nil {
			p.logger.Warn().Err(err).Msg("Release after scoped use failed")
		}
	}()
	return fn(ctx, pc.Conn())
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := len(p.idle)
	return Stats{
		Capacity: p.cfg.Size,
		InUse:    p.created - idle,
		Idle:     idle,
	}
}

// Close drains the free list and closes every idle connection. Connections
// still in use are closed when released. Subsequent Acquire calls fail with
// ErrClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case pc := <-p.idle:
			if err := pc.conn.Close(); err != nil {
				errs = append(errs, err)
			}
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
		default:
			return errors.Join(errs...)
		}
	}
}

// validate pings an idle connection before handing it out. A failed ping
// discards the connection so a corrupt handle never reenters the free list.
func (p *Pool) validate(pc *PooledConn) bool {
	pingCtx, cancel := context.WithTimeout(context.Background(), p.cfg.PingTimeout)
	defer cancel()

	if err := pc.conn.Ping(pingCtx); err != nil {
		p.logger.Warn().Err(err).Msg("Pooled connection failed validation ping, discarding")
		pc.setState(StateBroken)
		p.discard(pc)
		return false
	}
	return true
}

// discard closes a connection and frees its capacity slot.
func (p *Pool) discard(pc *PooledConn) {
	if err := pc.conn.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("Closing discarded connection failed")
	}
	BrokenDiscards.Inc()

	p.mu.Lock()
	p.created--
	p.mu.Unlock()
}
