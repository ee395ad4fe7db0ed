package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxPerHost    = 4
	DefaultLockTimeout   = 10 * time.Second
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

var (
	// ErrPoolExhausted is returned when every per-host slot stays busy for
	// the whole lock timeout. It is distinct from a connect timeout.
	ErrPoolExhausted = fmt.Errorf("connection pool exhausted")
	// ErrPoolClosed is returned by Acquire once the pool has shut down.
	ErrPoolClosed = fmt.Errorf("connection pool closed")
)

// PoolConfig tunes a Pool. Zero values fall back to the defaults above.
type PoolConfig struct {
	MaxPerHost    int64
	LockTimeout   time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Pool caches live connections per host identity (host, port, user, auth
// fingerprint). At most MaxPerHost connections per key are leased at a
// time; idle connections are probed before reuse and swept after
// IdleTimeout.
type Pool struct {
	builder *ChainBuilder
	cfg     PoolConfig
	log     *logrus.Entry

	mu      sync.Mutex
	entries map[string]*poolEntry
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

type poolEntry struct {
	sem  *semaphore.Weighted
	idle []*Conn // most recently released last
}

func NewPool(builder *ChainBuilder, cfg PoolConfig, log *logrus.Entry) *Pool {
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = DefaultMaxPerHost
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Pool{
		builder: builder,
		cfg:     cfg,
		log:     log,
		entries: make(map[string]*poolEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// entry returns the per-key state, creating it on first use. Fails once the
// pool has shut down so no connection can be built past Close.
func (p *Pool) entry(key string) (*poolEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	e, ok := p.entries[key]
	if !ok {
		e = &poolEntry{sem: semaphore.NewWeighted(p.cfg.MaxPerHost)}
		p.entries[key] = e
	}
	return e, nil
}

// Acquire returns a live connection for the request's key: an idle healthy
// one when available, a freshly built one when under the per-host cap, or
// it blocks until a slot frees — bounded by the lock timeout, after which
// it fails with ErrPoolExhausted. A connection is never handed to two
// callers without an intervening Release.
func (p *Pool) Acquire(ctx context.Context, req Request) (*Conn, error) {
	key := req.Key()
	e, err := p.entry(key)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.LockTimeout)
	defer cancel()
	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, newError(Cancelled, ctx.Err())
		}
		return nil, ErrPoolExhausted
	}

	// Prefer idle connections, newest first. Dead ones are disposed
	// synchronously rather than handed back or left for the sweep.
	for {
		conn := p.popIdle(e)
		if conn == nil {
			break
		}
		if err := conn.Ping(); err != nil {
			p.log.WithFields(logrus.Fields{"key": key, "error": err}).Debug("discarding dead pooled connection")
			conn.Close()
			continue
		}
		if err := conn.markInUse(); err != nil {
			e.sem.Release(1)
			return nil, err
		}
		return conn, nil
	}

	conn, err := p.builder.Build(ctx, req)
	if err != nil {
		e.sem.Release(1)
		return nil, err
	}
	if err := conn.markInUse(); err != nil {
		conn.Close()
		e.sem.Release(1)
		return nil, err
	}
	return conn, nil
}

func (p *Pool) popIdle(e *poolEntry) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(e.idle) == 0 {
		return nil
	}
	conn := e.idle[len(e.idle)-1]
	e.idle = e.idle[:len(e.idle)-1]
	return conn
}

// Release returns a leased connection to the idle set and restarts its
// idle-expiry clock.
func (p *Pool) Release(conn *Conn) {
	conn.markIdle()

	p.mu.Lock()
	e, ok := p.entries[conn.key]
	if !ok || p.closed {
		p.mu.Unlock()
		conn.Close()
		if ok {
			e.sem.Release(1)
		}
		return
	}
	e.idle = append(e.idle, conn)
	p.mu.Unlock()
	e.sem.Release(1)
}

// Discard closes a leased connection instead of returning it, freeing its
// slot. Use it when the consumer saw the connection die.
func (p *Pool) Discard(conn *Conn) {
	conn.Close()
	p.mu.Lock()
	e, ok := p.entries[conn.key]
	p.mu.Unlock()
	if ok {
		e.sem.Release(1)
	}
}

func (p *Pool) sweepLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

// sweep disposes idle connections older than the idle timeout.
func (p *Pool) sweep() {
	var expired []*Conn
	p.mu.Lock()
	for _, e := range p.entries {
		kept := e.idle[:0]
		for _, conn := range e.idle {
			if conn.IdleFor() > p.cfg.IdleTimeout {
				expired = append(expired, conn)
			} else {
				kept = append(kept, conn)
			}
		}
		e.idle = kept
	}
	p.mu.Unlock()

	for _, conn := range expired {
		p.log.WithField("addr", conn.Addr()).Debug("evicting idle connection")
		conn.Close()
	}
}

// IdleCount reports the number of idle connections for a key.
func (p *Pool) IdleCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return len(e.idle)
	}
	return 0
}

// Close stops the sweep and disposes every idle connection. Leased
// connections stay with their consumers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var idle []*Conn
	for _, e := range p.entries {
		idle = append(idle, e.idle...)
		e.idle = nil
	}
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	for _, conn := range idle {
		conn.Close()
	}
}
