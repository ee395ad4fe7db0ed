package models

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ForwardType distinguishes the three kinds of port forwards.
type ForwardType string

const (
	ForwardLocal   ForwardType = "local"   // local listener -> remote destination
	ForwardRemote  ForwardType = "remote"  // remote listener -> local destination
	ForwardDynamic ForwardType = "dynamic" // local SOCKS5 listener
)

// PortForwardingProfile is the stored description of a forward. Its runtime
// counterpart lives in internal/forward.
type PortForwardingProfile struct {
	Name        string      `json:"name"`
	HostName    string      `json:"host_name"`
	Type        ForwardType `json:"type"`
	BindAddress string      `json:"bind_address"`
	BindPort    int         `json:"bind_port"`
	DestHost    string      `json:"dest_host,omitempty"`
	DestPort    int         `json:"dest_port,omitempty"`
}

// BindAddr returns the listener address, defaulting to loopback.
func (p *PortForwardingProfile) BindAddr() string {
	addr := p.BindAddress
	if addr == "" {
		addr = "127.0.0.1"
	}
	return net.JoinHostPort(addr, strconv.Itoa(p.BindPort))
}

// DestAddr returns the destination address for local/remote forwards.
func (p *PortForwardingProfile) DestAddr() string {
	return net.JoinHostPort(p.DestHost, strconv.Itoa(p.DestPort))
}

// Validate rejects profiles that could never bind or dial.
func (p *PortForwardingProfile) Validate() error {
	switch p.Type {
	case ForwardLocal, ForwardRemote, ForwardDynamic:
	default:
		return fmt.Errorf("unknown forward type %q", p.Type)
	}
	if p.BindPort < 0 || p.BindPort > 65535 {
		return fmt.Errorf("bind port %d out of range", p.BindPort)
	}
	if p.Type != ForwardDynamic {
		if p.DestHost == "" {
			return errors.New("destination host cannot be empty")
		}
		if p.DestPort < 1 || p.DestPort > 65535 {
			return fmt.Errorf("destination port %d out of range", p.DestPort)
		}
	}
	return nil
}
