// Package session owns the set of live terminal sessions, the current
// selection, and the broadcast-input subset. It is the entry point the rest
// of the application talks to.
package session

import (
	"sync"
	"time"

	"sshFleet/internal/connection"
	"sshFleet/internal/models"
	"sshFleet/internal/serial"
)

// Link is the transport behind a session: an SSH connection or a serial
// port. A session exclusively owns its link for its lifetime.
type Link interface {
	Close() error
}

// SSHLink wraps a pooled or dedicated SSH connection. When Pool is set the
// connection is returned to it on close instead of being disposed.
type SSHLink struct {
	Conn *connection.Conn
	Pool *connection.Pool
}

func (l *SSHLink) Close() error {
	if l.Pool != nil {
		l.Pool.Release(l.Conn)
		return nil
	}
	return l.Conn.Close()
}

// SerialLink wraps an open serial device.
type SerialLink struct {
	Port *serial.Port
}

func (l *SerialLink) Close() error { return l.Port.Close() }

// Session is one live terminal session. The link is attached from a worker
// goroutine while other goroutines read connection state, so it sits behind
// its own lock.
type Session struct {
	ID        string
	Title     string
	Host      *models.Host
	CreatedAt time.Time

	mu          sync.RWMutex
	connectedAt time.Time
	link        Link
}

// Connected reports whether the session has a transport attached.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link != nil
}

// ConnectedAt returns when the transport was attached, zero while pending.
func (s *Session) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// SSH returns the SSH connection behind the session, nil for serial or
// unconnected sessions.
func (s *Session) SSH() *connection.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.link.(*SSHLink); ok {
		return l.Conn
	}
	return nil
}

// Serial returns the serial port behind the session, nil otherwise.
func (s *Session) Serial() *serial.Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.link.(*SerialLink); ok {
		return l.Port
	}
	return nil
}

// setLink attaches the transport, refusing a second attach.
func (s *Session) setLink(l Link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != nil {
		return false
	}
	s.link = l
	s.connectedAt = time.Now()
	return true
}

// takeLink detaches and returns the transport for teardown.
func (s *Session) takeLink() Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.link
	s.link = nil
	return l
}
