package connection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T, d Dialer, cfg PoolConfig) *Pool {
	t.Helper()
	p := NewPool(testBuilder(d), cfg, nil)
	t.Cleanup(p.Close)
	return p
}

func TestPoolReusesIdleConnection(t *testing.T) {
	d := newFakeDialer()
	p := testPool(t, d, PoolConfig{})
	req := Request{Target: testEndpoint("web1", "web1:22")}

	first, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	p.Release(first)

	second, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	defer p.Release(second)

	assert.Same(t, first, second)
	assert.Equal(t, 1, d.dialCount("web1:22"))
}

func TestPoolNeverDoubleLeases(t *testing.T) {
	d := newFakeDialer()
	p := testPool(t, d, PoolConfig{})
	req := Request{Target: testEndpoint("web1", "web1:22")}

	first, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, d.dialCount("web1:22"))

	p.Release(first)
	p.Release(second)
}

func TestPoolExhaustion(t *testing.T) {
	d := newFakeDialer()
	p := testPool(t, d, PoolConfig{MaxPerHost: 1, LockTimeout: 50 * time.Millisecond})
	req := Request{Target: testEndpoint("web1", "web1:22")}

	conn, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background(), req)
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Releasing frees the slot for the next caller.
	p.Release(conn)
	again, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	p.Release(again)
}

func TestPoolSeparateKeysDoNotContend(t *testing.T) {
	d := newFakeDialer()
	p := testPool(t, d, PoolConfig{MaxPerHost: 1, LockTimeout: 50 * time.Millisecond})

	a, err := p.Acquire(context.Background(), Request{Target: testEndpoint("web1", "web1:22")})
	require.NoError(t, err)
	defer p.Release(a)

	b, err := p.Acquire(context.Background(), Request{Target: testEndpoint("web2", "web2:22")})
	require.NoError(t, err)
	defer p.Release(b)
}

func TestPoolDisposesDeadIdleConnection(t *testing.T) {
	d := newFakeDialer()
	p := testPool(t, d, PoolConfig{})
	req := Request{Target: testEndpoint("web1", "web1:22")}

	first, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	p.Release(first)

	// The idle connection dies while pooled; the probe must catch it.
	d.clients["web1:22"].setPingErr(fmt.Errorf("connection lost"))

	second, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	defer p.Release(second)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, d.dialCount("web1:22"))
	assert.Zero(t, p.IdleCount(req.Key()), "dead connection must not linger in the idle set")
}

func TestPoolAcquireCancelled(t *testing.T) {
	d := newFakeDialer()
	p := testPool(t, d, PoolConfig{MaxPerHost: 1, LockTimeout: time.Minute})
	req := Request{Target: testEndpoint("web1", "web1:22")}

	conn, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	defer p.Release(conn)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx, req)
	require.Error(t, err)
	assert.Equal(t, Cancelled, ReasonOf(err))
}

func TestPoolSweepsExpiredIdleConnections(t *testing.T) {
	d := newFakeDialer()
	p := testPool(t, d, PoolConfig{
		IdleTimeout:   10 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})
	req := Request{Target: testEndpoint("web1", "web1:22")}

	conn, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	p.Release(conn)
	require.Equal(t, 1, p.IdleCount(req.Key()))

	assert.Eventually(t, func() bool {
		return p.IdleCount(req.Key()) == 0
	}, time.Second, 5*time.Millisecond, "expired idle connection should be swept")
}

func TestPoolAcquireAfterClose(t *testing.T) {
	d := newFakeDialer()
	p := NewPool(testBuilder(d), PoolConfig{}, nil)
	p.Close()

	_, err := p.Acquire(context.Background(), Request{Target: testEndpoint("web1", "web1:22")})
	require.ErrorIs(t, err, ErrPoolClosed)
	assert.Empty(t, d.dialed, "a closed pool must not build connections")
}

func TestPoolCloseDisposesIdle(t *testing.T) {
	d := newFakeDialer()
	p := NewPool(testBuilder(d), PoolConfig{}, nil)
	req := Request{Target: testEndpoint("web1", "web1:22")}

	conn, err := p.Acquire(context.Background(), req)
	require.NoError(t, err)
	p.Release(conn)

	p.Close()
	assert.Contains(t, *d.closeLog, "web1:22")
}
