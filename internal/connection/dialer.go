package connection

import (
	"context"
	"net"

	"golang.org/x/crypto/ssh"
)

// Client is the slice of *ssh.Client this package depends on. Tests swap in
// fakes; production code always talks to a real client.
type Client interface {
	Dial(network, addr string) (net.Conn, error)
	Listen(network, addr string) (net.Listener, error)
	NewSession() (*ssh.Session, error)
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

// Dialer establishes SSH transports, either directly or through an already
// established client (one proxy-chain hop).
type Dialer interface {
	Dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Client, error)
	DialThrough(ctx context.Context, parent Client, addr string, cfg *ssh.ClientConfig) (Client, error)
}

// sshClient adapts *ssh.Client to the Client interface while keeping the
// concrete client reachable for consumers that need it (sftp, scp).
type sshClient struct {
	*ssh.Client
}

// NetDialer is the production Dialer built on net.Dialer and
// golang.org/x/crypto/ssh.
type NetDialer struct{}

func (NetDialer) Dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return handshake(ctx, raw, addr, cfg)
}

func (NetDialer) DialThrough(ctx context.Context, parent Client, addr string, cfg *ssh.ClientConfig) (Client, error) {
	raw, err := parent.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return handshake(ctx, raw, addr, cfg)
}

// handshake runs the SSH handshake over raw. The handshake itself is not
// context-aware, so it runs in a goroutine and the raw conn is closed when
// ctx fires, which unblocks it.
func handshake(ctx context.Context, raw net.Conn, addr string, cfg *ssh.ClientConfig) (Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		conn, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{client: ssh.NewClient(conn, chans, reqs)}
	}()

	select {
	case <-ctx.Done():
		raw.Close()
		<-done
		return nil, newError(Cancelled, ctx.Err())
	case r := <-done:
		if r.err != nil {
			raw.Close()
			return nil, r.err
		}
		return &sshClient{Client: r.client}, nil
	}
}
