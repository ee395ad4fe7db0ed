// Package serial opens local serial devices so the session manager can
// treat them as a second transport next to SSH.
package serial

import (
	"fmt"
	"os"

	"sshFleet/internal/connection"
)

// Port is an open serial device.
type Port struct {
	device string
	f      *os.File
}

// Open opens the device read/write. A missing device surfaces as
// DeviceNotFound, an unreadable one as PermissionDenied.
func Open(device string) (*Port, error) {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		ce := connection.Classify(fmt.Errorf("failed to open %s: %w", device, err))
		return nil, ce
	}
	return &Port{device: device, f: f}, nil
}

func (p *Port) Device() string { return p.device }

func (p *Port) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.f.Write(b) }

func (p *Port) Close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}
