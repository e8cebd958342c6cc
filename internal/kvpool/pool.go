// Package kvpool maintains a bounded pool of Redis connections with explicit
// acquire/release semantics, a background health loop, and a recorded-command
// transaction that replays on a single connection inside MULTI/EXEC.
package kvpool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xbsc-402/x402-backend/internal/config"
)

const (
	pingTimeout    = 500 * time.Millisecond
	slowPingWarn   = 100 * time.Millisecond
	healthInterval = 30 * time.Second
	backoffBase    = 500 * time.Millisecond
	backoffCap     = 30 * time.Second
)

// ErrPoolClosed is returned by acquires issued after Drain has begun.
var ErrPoolClosed = errors.New("kv pool closed")

// AcquireTimeoutError is returned when no connection becomes free within the
// configured acquire timeout.
type AcquireTimeoutError struct {
	Wait time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("kv acquire timed out after %s: pool exhausted", e.Wait)
}

// Status is a snapshot of pool occupancy.
type Status struct {
	Total   int  `json:"total"`
	Idle    int  `json:"idle"`
	InUse   int  `json:"inUse"`
	Waiting int  `json:"waiting"`
	Closed  bool `json:"closed"`
}

// conn is one pooled connection: a go-redis client pinned to a single
// underlying socket (PoolSize=1).
type conn struct {
	rdb       *redis.Client
	idleSince time.Time
}

// Pool is a [min, max] bounded connection pool. The free list is LIFO so hot
// connections are reused; waiters are served in FIFO arrival order.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	opts            *redis.Options
	min, max        int
	acquireTimeout  time.Duration
	idleTimeout     time.Duration
	connectAttempts int

	idle    []*conn
	inUse   map[*conn]struct{}
	total   int
	waiting int
	closed  bool

	log *zap.Logger
}

// New builds a pool from the KV config. No connection is dialed until the
// first acquire (or health-loop top-up).
func New(cfg config.KVConfig, log *zap.Logger) (*Pool, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		opts:            opts,
		min:             cfg.PoolMin,
		max:             cfg.PoolMax,
		acquireTimeout:  time.Duration(cfg.AcquireTimeoutMS) * time.Millisecond,
		idleTimeout:     time.Duration(cfg.IdleTimeoutSec) * time.Second,
		connectAttempts: cfg.ConnectAttempts,
		inUse:           make(map[*conn]struct{}),
		log:             log,
	}
	if p.connectAttempts < 1 {
		p.connectAttempts = 1
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

func clientOptions(cfg config.KVConfig) (*redis.Options, error) {
	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse kv url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	// One socket per pooled client; this pool owns multiplexing and retries.
	opts.PoolSize = 1
	opts.MaxRetries = -1
	cmdTimeout := time.Duration(cfg.CommandTimeoutSec) * time.Second
	if cmdTimeout > 0 {
		opts.ReadTimeout = cmdTimeout
		opts.WriteTimeout = cmdTimeout
	}
	return opts, nil
}

// Execute acquires a connection, runs fn on it, and releases it. Connection
//-class failures returned by fn destroy the connection instead of returning
// it to the free list.
func (p *Pool) Execute(ctx context.Context, fn func(ctx context.Context, rdb *redis.Client) error) error {
	c, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, c.rdb)
	p.release(c, isConnFailure(err))
	return err
}

// Ping round-trips one PING on a pooled connection.
func (p *Pool) Ping(ctx context.Context) error {
	return p.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Ping(ctx).Err()
	})
}

// Status returns a snapshot of the pool's occupancy counters.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Total:   p.total,
		Idle:    len(p.idle),
		InUse:   len(p.inUse),
		Waiting: p.waiting,
		Closed:  p.closed,
	}
}

// acquire pops the most recently used free connection, dials a new one below
// the ceiling, or joins the waiter queue until the acquire timeout.
func (p *Pool) acquire(ctx context.Context) (*conn, error) {
	deadline := time.Now().Add(p.acquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// LIFO free list; liveness-check each candidate off-lock.
		for len(p.idle) > 0 {
			c := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.inUse[c] = struct{}{}
			p.mu.Unlock()

			if err := pingConn(c); err != nil {
				p.destroy(c)
				p.mu.Lock()
				continue
			}
			return c, nil
		}

		if p.total < p.max {
			p.total++
			p.mu.Unlock()

			c, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("kv connect: %w", err)
			}
			p.mu.Lock()
			if p.closed {
				p.total--
				p.mu.Unlock()
				c.rdb.Close() //nolint:errcheck
				return nil, ErrPoolClosed
			}
			p.inUse[c] = struct{}{}
			p.mu.Unlock()
			return c, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, &AcquireTimeoutError{Wait: p.acquireTimeout}
		}

		p.waiting++
		timer := time.AfterFunc(remaining, func() {
			p.cond.Broadcast()
		})
		p.cond.Wait()
		timer.Stop()
		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if time.Now().After(deadline) {
			p.mu.Unlock()
			return nil, &AcquireTimeoutError{Wait: p.acquireTimeout}
		}
	}
}

// release returns a connection to the free list (waking one waiter) or
// destroys it when broken or during drain, replacing below the floor.
func (p *Pool) release(c *conn, broken bool) {
	p.mu.Lock()
	delete(p.inUse, c)

	if p.closed || broken {
		p.total--
		belowFloor := !p.closed && p.total < p.min
		p.cond.Signal()
		p.mu.Unlock()
		c.rdb.Close() //nolint:errcheck
		if belowFloor {
			go p.addOne(context.Background())
		}
		return
	}

	c.idleSince = time.Now()
	p.idle = append(p.idle, c)
	p.cond.Signal()
	p.mu.Unlock()
}

// destroy removes a connection that is currently accounted in inUse.
func (p *Pool) destroy(c *conn) {
	p.mu.Lock()
	delete(p.inUse, c)
	p.total--
	p.cond.Signal()
	p.mu.Unlock()
	c.rdb.Close() //nolint:errcheck
}

// addOne dials a single connection into the free list if room remains.
func (p *Pool) addOne(ctx context.Context) {
	p.mu.Lock()
	if p.closed || p.total >= p.max {
		p.mu.Unlock()
		return
	}
	p.total++
	p.mu.Unlock()

	c, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.log.Warn("kv pool top-up failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		c.rdb.Close() //nolint:errcheck
		return
	}
	c.idleSince = time.Now()
	p.idle = append(p.idle, c)
	p.cond.Signal()
	p.mu.Unlock()
}

// dial connects with bounded attempts and exponential backoff capped at 30s.
func (p *Pool) dial(ctx context.Context) (*conn, error) {
	var lastErr error
	for attempt := 0; attempt < p.connectAttempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			if backoff > backoffCap {
				backoff = backoffCap
			}
			backoff += time.Duration(rand.Int63n(int64(backoffBase)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		rdb := redis.NewClient(p.opts)
		pingCtx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout+pingTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return &conn{rdb: rdb, idleSince: time.Now()}, nil
		}
		rdb.Close() //nolint:errcheck
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", p.connectAttempts, lastErr)
}

func pingConn(c *conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// isConnFailure classifies errors that should remove the connection from the
// pool: reset/refused/closed sockets and replica READONLY responses. Command
// errors (including redis.Nil) leave the connection in place.
func isConnFailure(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "closed"),
		strings.HasPrefix(msg, "READONLY"):
		return true
	}
	return false
}

// HealthLoop runs until ctx is done: every 30s it reports status, pings one
// idle connection (warning above 100ms), evicts idle connections past the
// idle timeout while respecting the floor, and tops the pool up by at most
// one connection per tick.
func (p *Pool) HealthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	p.log.Info("kv pool health loop started",
		zap.Int("min", p.min), zap.Int("max", p.max))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("kv pool health loop stopped")
			return
		case <-ticker.C:
			p.healthTick(ctx)
		}
	}
}

func (p *Pool) healthTick(ctx context.Context) {
	st := p.Status()
	p.log.Info("kv pool status",
		zap.Int("total", st.Total),
		zap.Int("idle", st.Idle),
		zap.Int("inUse", st.InUse),
		zap.Int("waiting", st.Waiting),
	)

	// Ping one idle connection to catch silent socket death.
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse[c] = struct{}{}
		p.mu.Unlock()

		start := time.Now()
		err := pingConn(c)
		elapsed := time.Since(start)
		if err != nil {
			p.log.Warn("kv health ping failed, discarding connection", zap.Error(err))
			p.destroy(c)
		} else {
			if elapsed > slowPingWarn {
				p.log.Warn("kv health ping slow", zap.Duration("elapsed", elapsed))
			}
			p.release(c, false)
		}
	} else {
		p.mu.Unlock()
	}

	p.evictIdle()

	st = p.Status()
	if st.Total < p.min && !st.Closed {
		p.addOne(ctx)
	}
	if st.Total == 0 && !st.Closed {
		p.log.Warn("kv pool has no healthy connections")
	}
}

// evictIdle drops connections idle past the idle timeout, oldest first,
// never dipping below the floor.
func (p *Pool) evictIdle() {
	if p.idleTimeout <= 0 {
		return
	}
	now := time.Now()

	p.mu.Lock()
	var evicted []*conn
	for len(p.idle) > 0 && p.total > p.min {
		c := p.idle[0]
		if now.Sub(c.idleSince) <= p.idleTimeout {
			break
		}
		p.idle = p.idle[1:]
		p.total--
		evicted = append(evicted, c)
	}
	p.mu.Unlock()

	for _, c := range evicted {
		c.rdb.Close() //nolint:errcheck
	}
	if len(evicted) > 0 {
		p.log.Info("kv pool evicted idle connections", zap.Int("count", len(evicted)))
	}
}

// Drain stops the pool: new acquires fail with ErrPoolClosed, idle
// connections close immediately, and in-use connections are awaited until ctx
// expires, after which they are force-closed.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()

	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	active := len(p.inUse)
	p.mu.Unlock()

	for _, c := range idle {
		c.rdb.Close() //nolint:errcheck
	}

	if active == 0 {
		return
	}
	p.log.Info("kv pool draining active connections", zap.Int("count", active))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.inUse) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-ctx.Done():
			p.mu.Lock()
			for c := range p.inUse {
				c.rdb.Close() //nolint:errcheck
				p.total--
			}
			p.inUse = make(map[*conn]struct{})
			p.mu.Unlock()
			p.log.Warn("kv pool force-closed active connections after drain timeout")
			return
		}
	}
}
