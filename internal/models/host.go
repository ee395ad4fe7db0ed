package models

import (
	"encoding/json"
	"fmt"
)

// HostKind selects the transport a host record describes.
type HostKind string

const (
	HostSSH    HostKind = "ssh"
	HostSerial HostKind = "serial"
)

// AuthType is the authentication method declared for a host or a proxy hop.
type AuthType string

const (
	AuthPassword            AuthType = "password"
	AuthPrivateKey          AuthType = "key"
	AuthAgent               AuthType = "agent"
	AuthKeyboardInteractive AuthType = "keyboard-interactive"
)

// AuthSpec points at the credential material needed for one endpoint. The
// ID fields index the encrypted password and key lists; -1 means unused.
// Fields omitted from JSON come back as -1, never as index 0.
type AuthSpec struct {
	Type         AuthType `json:"type"`
	PasswordID   int      `json:"password_id,omitempty"`
	KeyID        int      `json:"key_id,omitempty"`
	KeyPath      string   `json:"key_path,omitempty"`
	PassphraseID int      `json:"passphrase_id,omitempty"`
}

func (a *AuthSpec) UnmarshalJSON(data []byte) error {
	type plain AuthSpec
	spec := plain{PasswordID: -1, KeyID: -1, PassphraseID: -1}
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	*a = AuthSpec(spec)
	return nil
}

// ProxyHop is a single jump host on the way to a target. A hop carries its
// own address and credentials; hops are immutable once a chain build starts.
type ProxyHop struct {
	Host  string   `json:"host"`
	Port  string   `json:"port"`
	Login string   `json:"login"`
	Auth  AuthSpec `json:"auth"`
}

// Addr returns the dialable host:port of the hop.
func (h ProxyHop) Addr() string {
	return fmt.Sprintf("%s:%s", h.Host, h.Port)
}

type Host struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Kind         HostKind   `json:"kind"`
	Login        string     `json:"login"`
	IP           string     `json:"ip"`
	Port         string     `json:"port"`
	Device       string     `json:"device,omitempty"` // serial hosts only
	Auth         AuthSpec   `json:"auth"`
	ProxyJumps   []ProxyHop `json:"proxy_jumps,omitempty"`
	TerminalType string     `json:"terminal_type"`
	KeepAlive    bool       `json:"keep_alive"`
	Compression  bool       `json:"compression"`
}

// Addr returns the dialable host:port of an SSH host.
func (h *Host) Addr() string {
	return fmt.Sprintf("%s:%s", h.IP, h.Port)
}

type Config struct {
	Hosts     []Host                  `json:"hosts"`
	Passwords []Password              `json:"passwords"`
	Keys      []Key                   `json:"keys"`
	Forwards  []PortForwardingProfile `json:"forwards"`
}
