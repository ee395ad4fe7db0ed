package connection

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const keepaliveRequest = "keepalive@sshfleet"

// Conn is an established connection to a target host, possibly reached
// through a proxy chain. While idle it is owned by the pool; otherwise it
// is owned by exactly one consumer until released or closed.
type Conn struct {
	client Client
	hops   []Client // intermediate hop clients, creation order
	addr   string
	user   string
	key    string

	createdAt time.Time

	mu        sync.Mutex
	lastUsed  time.Time
	inUse     bool
	closed    bool
	keepStop  chan struct{}
	keepEvery time.Duration
}

func newConn(client Client, hops []Client, addr, user, key string) *Conn {
	now := time.Now()
	return &Conn{
		client:    client,
		hops:      hops,
		addr:      addr,
		user:      user,
		key:       key,
		createdAt: now,
		lastUsed:  now,
	}
}

// Client returns the transport handle for session, forward, and transfer
// consumers.
func (c *Conn) Client() Client { return c.client }

// Raw returns the underlying *ssh.Client when the connection is backed by a
// real transport (nil for test fakes). SFTP/SCP attachment needs it.
func (c *Conn) Raw() *ssh.Client {
	if sc, ok := c.client.(*sshClient); ok {
		return sc.Client
	}
	return nil
}

func (c *Conn) Addr() string         { return c.addr }
func (c *Conn) User() string         { return c.user }
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// IdleFor reports how long the connection has sat unused.
func (c *Conn) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsed)
}

// Ping probes liveness with a keepalive global request.
func (c *Conn) Ping() error {
	_, _, err := c.client.SendRequest(keepaliveRequest, true, nil)
	if err != nil {
		return fmt.Errorf("liveness probe failed: %w", err)
	}
	return nil
}

// StartKeepalive sends keepalive requests every interval until the
// connection closes. A failed keepalive closes the connection.
func (c *Conn) StartKeepalive(interval time.Duration) {
	c.mu.Lock()
	if c.keepStop != nil || c.closed || interval <= 0 {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.keepStop = stop
	c.keepEvery = interval
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Ping(); err != nil {
					c.Close()
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Conn) markInUse() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse {
		return fmt.Errorf("connection %s already leased", c.addr)
	}
	c.inUse = true
	return nil
}

func (c *Conn) markIdle() {
	c.mu.Lock()
	c.inUse = false
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// Close tears down the connection: the target transport first, then the
// proxy hops in exact reverse of creation order. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.keepStop != nil {
		close(c.keepStop)
		c.keepStop = nil
	}
	c.mu.Unlock()

	err := c.client.Close()
	for i := len(c.hops) - 1; i >= 0; i-- {
		c.hops[i].Close()
	}
	return err
}
