// Package forward starts, tracks, and stops port forwards over established
// SSH connections: local and remote TCP forwards plus a dynamic SOCKS5
// listener.
package forward

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sshFleet/internal/models"
)

// Status is the lifecycle state of a forward handle. Transitions are
// monotonic: Starting -> Active | Failed, Active -> Stopped.
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// Tunnel is what a forward needs from an established connection.
type Tunnel interface {
	Dial(network, addr string) (net.Conn, error)
	Listen(network, addr string) (net.Listener, error)
}

// Forward is the runtime counterpart of a PortForwardingProfile.
type Forward struct {
	ID        string
	SessionID string
	Profile   models.PortForwardingProfile
	StartedAt time.Time

	mu       sync.Mutex
	status   Status
	errMsg   string
	listener net.Listener
	stop     chan struct{}

	bytes  atomic.Int64
	active atomic.Int32
}

// Status returns the current lifecycle state.
func (f *Forward) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Error returns the human-readable failure message, empty unless Failed.
func (f *Forward) Error() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

// BytesTransferred is the cumulative byte count across all channels.
func (f *Forward) BytesTransferred() int64 { return f.bytes.Load() }

// ActiveConnections is the number of currently open proxied connections.
func (f *Forward) ActiveConnections() int32 { return f.active.Load() }

func (f *Forward) fail(msg string) {
	f.mu.Lock()
	if f.status == StatusStarting {
		f.status = StatusFailed
		f.errMsg = msg
	}
	f.mu.Unlock()
}

func (f *Forward) activate(ln net.Listener) {
	f.mu.Lock()
	f.status = StatusActive
	f.listener = ln
	f.mu.Unlock()
}

// Stop tears down the listener and marks the forward Stopped. It is
// idempotent; stopping an already-stopped or failed handle is a no-op.
func (f *Forward) Stop() {
	f.mu.Lock()
	if f.status != StatusActive {
		f.mu.Unlock()
		return
	}
	f.status = StatusStopped
	ln := f.listener
	f.listener = nil
	close(f.stop)
	f.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
}

func (f *Forward) stopped() bool {
	select {
	case <-f.stop:
		return true
	default:
		return false
	}
}

// Service owns every forward handle and scopes them to sessions.
type Service struct {
	log *logrus.Entry

	mu       sync.Mutex
	forwards map[string]*Forward
}

func NewService(log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{log: log, forwards: make(map[string]*Forward)}
}

// Start binds the forward and returns its handle. Bind failures are
// recorded on the handle (Starting -> Failed) rather than returned, so one
// failed forward never aborts siblings or the owning session; only an
// invalid profile yields an error.
func (s *Service) Start(tunnel Tunnel, sessionID string, profile models.PortForwardingProfile) (*Forward, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forwarding profile: %w", err)
	}

	f := &Forward{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Profile:   profile,
		StartedAt: time.Now(),
		status:    StatusStarting,
		stop:      make(chan struct{}),
	}
	s.mu.Lock()
	s.forwards[f.ID] = f
	s.mu.Unlock()

	var ln net.Listener
	var err error
	switch profile.Type {
	case models.ForwardRemote:
		ln, err = tunnel.Listen("tcp", profile.BindAddr())
	default: // local and dynamic bind a local listener
		ln, err = net.Listen("tcp", profile.BindAddr())
	}
	if err != nil {
		msg := bindErrorMessage(profile.BindAddr(), err)
		f.fail(msg)
		s.log.WithFields(logrus.Fields{"forward": f.ID, "bind": profile.BindAddr()}).Warn(msg)
		return f, nil
	}
	f.activate(ln)

	s.log.WithFields(logrus.Fields{
		"forward": f.ID,
		"session": sessionID,
		"type":    profile.Type,
		"bind":    profile.BindAddr(),
	}).Info("forward active")

	go s.acceptLoop(f, tunnel, ln)
	return f, nil
}

func (s *Service) acceptLoop(f *Forward, tunnel Tunnel, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if f.stopped() {
				return
			}
			s.log.WithFields(logrus.Fields{"forward": f.ID, "error": err}).Debug("accept failed")
			return
		}
		go s.serve(f, tunnel, conn)
	}
}

func (s *Service) serve(f *Forward, tunnel Tunnel, in net.Conn) {
	var out net.Conn
	var err error
	switch f.Profile.Type {
	case models.ForwardLocal:
		out, err = tunnel.Dial("tcp", f.Profile.DestAddr())
	case models.ForwardRemote:
		out, err = net.Dial("tcp", f.Profile.DestAddr())
	case models.ForwardDynamic:
		out, err = s.socksConnect(f, tunnel, in)
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{"forward": f.ID, "error": err}).Debug("channel open failed")
		in.Close()
		return
	}
	f.pipe(in, out)
}

// pipe shuttles bytes both ways, feeding the handle's counters.
func (f *Forward) pipe(a, b net.Conn) {
	f.active.Add(1)
	defer f.active.Add(-1)
	defer a.Close()
	defer b.Close()

	done := make(chan struct{}, 2)
	oneWay := func(dst, src net.Conn) {
		n, _ := io.Copy(dst, src)
		f.bytes.Add(n)
		if tc, ok := dst.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}
	go oneWay(a, b)
	go oneWay(b, a)
	<-done
	<-done
}

// Get returns a handle by id.
func (s *Service) Get(id string) (*Forward, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forwards[id]
	return f, ok
}

// ForSession lists the forwards owned by a session.
func (s *Service) ForSession(sessionID string) []*Forward {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Forward
	for _, f := range s.forwards {
		if f.SessionID == sessionID {
			out = append(out, f)
		}
	}
	return out
}

// Stop stops one forward by id. Unknown ids and repeated stops are no-ops.
func (s *Service) Stop(id string) {
	s.mu.Lock()
	f, ok := s.forwards[id]
	s.mu.Unlock()
	if ok {
		f.Stop()
	}
}

// StopSession stops and drops every forward owned by the session. Called
// automatically when a session closes; a forward never outlives its
// session's connection.
func (s *Service) StopSession(sessionID string) {
	s.mu.Lock()
	var victims []*Forward
	for id, f := range s.forwards {
		if f.SessionID == sessionID {
			victims = append(victims, f)
			delete(s.forwards, id)
		}
	}
	s.mu.Unlock()

	for _, f := range victims {
		f.Stop()
	}
}

// bindErrorMessage turns a bind error into the message stored on the
// handle.
func bindErrorMessage(addr string, err error) string {
	switch {
	case errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use"):
		return fmt.Sprintf("port %s is already in use", addr)
	case errors.Is(err, syscall.EACCES):
		return fmt.Sprintf("permission denied binding %s", addr)
	default:
		return fmt.Sprintf("failed to bind %s: %v", addr, err)
	}
}
