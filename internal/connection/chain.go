package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Endpoint is one dialable hop: a jump host or the final target.
type Endpoint struct {
	Host     string // hostname, for error context and trust prompts
	Addr     string // host:port
	User     string
	Material Material
}

// Request describes a single connect attempt: the target plus an ordered,
// possibly empty, chain of jump hosts. Requests are built per attempt and
// discarded once resolved.
type Request struct {
	Target      Endpoint
	Hops        []Endpoint
	DialTimeout time.Duration
}

// Key is the pool identity of the connection this request would produce.
func (r *Request) Key() string {
	return fmt.Sprintf("%s@%s#%s", r.Target.User, r.Target.Addr, r.Target.Material.Fingerprint())
}

// ChainBuilder establishes a connection to a target, tunneling hop by hop
// through the request's jump hosts. Each hop's dial is individually wrapped
// by the retry policy; a hop that exhausts its attempts aborts the whole
// build and tears down earlier hops in reverse order.
type ChainBuilder struct {
	Dialer   Dialer
	Factory  *MethodFactory
	Policy   *RetryPolicy
	HostKeys ssh.HostKeyCallback
	Log      *logrus.Entry
}

func (b *ChainBuilder) policy() *RetryPolicy {
	if b.Policy != nil {
		return b.Policy
	}
	return DefaultRetryPolicy()
}

func (b *ChainBuilder) hostKeys() ssh.HostKeyCallback {
	if b.HostKeys != nil {
		return b.HostKeys
	}
	return ssh.InsecureIgnoreHostKey()
}

func (b *ChainBuilder) log() *logrus.Entry {
	if b.Log != nil {
		return b.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Build dials the chain strictly sequentially: hop 0 over TCP, every later
// hop through the previous hop's transport. Later hops are never attempted
// after a failure.
func (b *ChainBuilder) Build(ctx context.Context, req Request) (*Conn, error) {
	endpoints := make([]Endpoint, 0, len(req.Hops)+1)
	endpoints = append(endpoints, req.Hops...)
	endpoints = append(endpoints, req.Target)

	clients := make([]Client, 0, len(endpoints))
	teardown := func() {
		for i := len(clients) - 1; i >= 0; i-- {
			clients[i].Close()
		}
	}

	for i, ep := range endpoints {
		isHop := i < len(req.Hops)

		methods, err := b.Factory.Methods(ep.Material)
		if err != nil {
			teardown()
			return nil, hopError(err, i, ep.Host, isHop)
		}

		cfg := &ssh.ClientConfig{
			User:            ep.User,
			Auth:            methods,
			HostKeyCallback: b.hostKeys(),
			Timeout:         req.DialTimeout,
		}

		policy := *b.policy()
		if policy.OnAttempt == nil {
			host := ep.Host
			policy.OnAttempt = func(attempt int, delay time.Duration, reason Reason) {
				b.log().WithFields(logrus.Fields{
					"host":    host,
					"hop":     i,
					"attempt": attempt,
					"delay":   delay,
					"reason":  reason,
				}).Info("retrying hop dial")
			}
		}

		var client Client
		dialErr := policy.Do(ctx, func(ctx context.Context) error {
			var err error
			if i == 0 {
				client, err = b.Dialer.Dial(ctx, ep.Addr, cfg)
			} else {
				client, err = b.Dialer.DialThrough(ctx, clients[i-1], ep.Addr, cfg)
			}
			if err != nil {
				return Classify(err)
			}
			return nil
		})
		if dialErr != nil {
			teardown()
			return nil, hopError(dialErr, i, ep.Host, isHop)
		}
		clients = append(clients, client)
	}

	target := clients[len(clients)-1]
	hops := clients[:len(clients)-1]
	conn := newConn(target, hops, req.Target.Addr, req.Target.User, req.Key())
	b.log().WithFields(logrus.Fields{
		"target": req.Target.Addr,
		"hops":   len(req.Hops),
	}).Debug("chain established")
	return conn, nil
}

// hopError attaches hop context to a failure. Cancellation keeps its
// reason; any other jump-host failure surfaces as ProxyConnectionFailed
// with the failing hop's index and hostname.
func hopError(err error, index int, host string, isHop bool) error {
	ce := Classify(err)
	if ce.Reason == Cancelled {
		return &ConnectError{Reason: Cancelled, HopIndex: index, HopHost: host, Err: ce.Err}
	}
	if !isHop {
		if ce.HopIndex < 0 {
			ce.HopIndex = -1
		}
		return ce
	}
	if ce.Reason == InvalidConfiguration {
		return &ConnectError{Reason: InvalidConfiguration, HopIndex: index, HopHost: host, Err: ce}
	}
	return &ConnectError{Reason: ProxyConnectionFailed, HopIndex: index, HopHost: host, Err: ce}
}
