// Package connection implements the connect/session orchestration core:
// authentication method assembly, retry with backoff, proxy-chain dialing,
// and pooled reuse of live SSH connections.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh/knownhosts"
)

// Reason classifies why a connection attempt failed. The retry policy keys
// off this classification; callers receive it instead of raw transport
// errors.
type Reason string

const (
	NetworkUnreachable        Reason = "network-unreachable"
	ConnectionRefused         Reason = "connection-refused"
	ConnectionTimedOut        Reason = "connection-timed-out"
	DNSResolutionFailed       Reason = "dns-resolution-failed"
	AuthenticationFailed      Reason = "authentication-failed"
	HostKeyVerificationFailed Reason = "host-key-verification-failed"
	ProtocolError             Reason = "protocol-error"
	ServerDisconnected        Reason = "server-disconnected"
	PortNotAvailable          Reason = "port-not-available"
	DeviceNotFound            Reason = "device-not-found"
	PermissionDenied          Reason = "permission-denied"
	InvalidConfiguration      Reason = "invalid-configuration"
	Cancelled                 Reason = "cancelled"
	ProxyConnectionFailed     Reason = "proxy-connection-failed"
)

// ConnectError is the structured failure handed to callers. HopIndex and
// HopHost are filled when a proxy hop failed; HopIndex is -1 otherwise.
type ConnectError struct {
	Reason   Reason
	HopIndex int
	HopHost  string
	Err      error
}

func (e *ConnectError) Error() string {
	if e.HopIndex >= 0 {
		return fmt.Sprintf("%s at hop %d (%s): %v", e.Reason, e.HopIndex, e.HopHost, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// newError wraps err with a reason and no hop context.
func newError(reason Reason, err error) *ConnectError {
	return &ConnectError{Reason: reason, HopIndex: -1, Err: err}
}

// ReasonOf extracts the classification from an error chain, classifying raw
// errors on the fly.
func ReasonOf(err error) Reason {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return Classify(err).Reason
}

// Classify maps a raw error onto a ConnectError. Errors that already carry a
// reason pass through unchanged.
func Classify(err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(Cancelled, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return newError(ConnectionRefused, err)
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return newError(NetworkUnreachable, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return newError(ServerDisconnected, err)
	case errors.Is(err, syscall.EADDRINUSE):
		return newError(PortNotAvailable, err)
	case errors.Is(err, syscall.EACCES), errors.Is(err, os.ErrPermission):
		return newError(PermissionDenied, err)
	case errors.Is(err, os.ErrNotExist):
		return newError(DeviceNotFound, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newError(DNSResolutionFailed, err)
	}
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return newError(HostKeyVerificationFailed, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ConnectionTimedOut, err)
	}

	// x/crypto/ssh does not export typed handshake errors; fall back to the
	// strings it produces.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return newError(AuthenticationFailed, err)
	case strings.Contains(msg, "host key"):
		return newError(HostKeyVerificationFailed, err)
	case strings.Contains(msg, "handshake failed"):
		return newError(ProtocolError, err)
	case strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "EOF"):
		return newError(ServerDisconnected, err)
	}

	return newError(ProtocolError, err)
}
