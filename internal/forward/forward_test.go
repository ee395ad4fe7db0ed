package forward

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshFleet/internal/models"
)

// loopbackTunnel fakes the SSH transport by dialing and listening on
// loopback directly.
type loopbackTunnel struct{}

func (loopbackTunnel) Dial(network, addr string) (net.Conn, error) {
	return net.Dial(network, addr)
}

func (loopbackTunnel) Listen(network, addr string) (net.Listener, error) {
	return net.Listen(network, addr)
}

// startEcho runs a server that echoes everything back, once per connection.
func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func listenerAddr(f *Forward) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener.Addr().String()
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)
	return host, port
}

func TestLocalForwardProxiesAndCounts(t *testing.T) {
	echo := startEcho(t)
	_, destPort := hostPort(t, echo)

	svc := NewService(nil)
	f, err := svc.Start(loopbackTunnel{}, "sess-1", models.PortForwardingProfile{
		Name:     "db",
		HostName: "web1",
		Type:     models.ForwardLocal,
		DestHost: "127.0.0.1",
		DestPort: destPort,
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, f.Status())
	defer f.Stop()

	conn, err := net.Dial("tcp", listenerAddr(f))
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("ping through the tunnel")
	_, err = conn.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)

	conn.Close()
	assert.Eventually(t, func() bool {
		return f.BytesTransferred() >= int64(2*len(payload))
	}, time.Second, 10*time.Millisecond, "both directions should be counted")
}

func TestRemoteForwardListensThroughTunnel(t *testing.T) {
	echo := startEcho(t)
	_, destPort := hostPort(t, echo)

	svc := NewService(nil)
	f, err := svc.Start(loopbackTunnel{}, "sess-1", models.PortForwardingProfile{
		Name:     "callback",
		HostName: "web1",
		Type:     models.ForwardRemote,
		DestHost: "127.0.0.1",
		DestPort: destPort,
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, f.Status())
	defer f.Stop()

	conn, err := net.Dial("tcp", listenerAddr(f))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestDynamicForwardSpeaksSOCKS5(t *testing.T) {
	echo := startEcho(t)
	host, destPort := hostPort(t, echo)

	svc := NewService(nil)
	f, err := svc.Start(loopbackTunnel{}, "sess-1", models.PortForwardingProfile{
		Name:     "socks",
		HostName: "web1",
		Type:     models.ForwardDynamic,
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, f.Status())
	defer f.Stop()

	conn, err := net.Dial("tcp", listenerAddr(f))
	require.NoError(t, err)
	defer conn.Close()

	// Greeting: version 5, one method, no-auth.
	_, err = conn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)
	reply := make([]byte, 2)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00}, reply)

	// CONNECT to the echo server by IPv4 address.
	req := []byte{0x05, 0x01, 0x00, 0x01}
	req = append(req, net.ParseIP(host).To4()...)
	req = binary.BigEndian.AppendUint16(req, uint16(destPort))
	_, err = conn.Write(req)
	require.NoError(t, err)

	connectReply := make([]byte, 10)
	_, err = io.ReadFull(conn, connectReply)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), connectReply[1], "CONNECT should succeed")

	_, err = conn.Write([]byte("via socks"))
	require.NoError(t, err)
	buf := make([]byte, 9)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "via socks", string(buf))
}

func TestStartRecordsBindFailure(t *testing.T) {
	// Occupy a port first so the forward cannot bind it.
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	_, port := hostPort(t, taken.Addr().String())

	svc := NewService(nil)
	f, err := svc.Start(loopbackTunnel{}, "sess-1", models.PortForwardingProfile{
		Name:     "clash",
		HostName: "web1",
		Type:     models.ForwardLocal,
		BindPort: port,
		DestHost: "127.0.0.1",
		DestPort: 80,
	})
	require.NoError(t, err, "bind failures are recorded on the handle, not returned")
	assert.Equal(t, StatusFailed, f.Status())
	assert.Contains(t, f.Error(), "already in use")
}

func TestStartRejectsInvalidProfile(t *testing.T) {
	svc := NewService(nil)

	_, err := svc.Start(loopbackTunnel{}, "sess-1", models.PortForwardingProfile{
		Name: "broken",
		Type: models.ForwardLocal,
	})
	require.Error(t, err)

	_, err = svc.Start(loopbackTunnel{}, "sess-1", models.PortForwardingProfile{
		Name: "weird",
		Type: models.ForwardType("gre"),
	})
	require.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	echo := startEcho(t)
	_, destPort := hostPort(t, echo)

	svc := NewService(nil)
	f, err := svc.Start(loopbackTunnel{}, "sess-1", models.PortForwardingProfile{
		Name:     "db",
		HostName: "web1",
		Type:     models.ForwardLocal,
		DestHost: "127.0.0.1",
		DestPort: destPort,
	})
	require.NoError(t, err)

	f.Stop()
	assert.Equal(t, StatusStopped, f.Status())
	f.Stop()
	assert.Equal(t, StatusStopped, f.Status())
}

func TestStopFailedForwardIsNoOp(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	_, port := hostPort(t, taken.Addr().String())

	svc := NewService(nil)
	f, err := svc.Start(loopbackTunnel{}, "sess-1", models.PortForwardingProfile{
		Name:     "clash",
		HostName: "web1",
		Type:     models.ForwardLocal,
		BindPort: port,
		DestHost: "127.0.0.1",
		DestPort: 80,
	})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, f.Status())

	f.Stop()
	assert.Equal(t, StatusFailed, f.Status(), "Failed is terminal")
}

func TestStopSessionScopesForwards(t *testing.T) {
	echo := startEcho(t)
	_, destPort := hostPort(t, echo)

	svc := NewService(nil)
	profile := models.PortForwardingProfile{
		Name:     "db",
		HostName: "web1",
		Type:     models.ForwardLocal,
		DestHost: "127.0.0.1",
		DestPort: destPort,
	}

	a, err := svc.Start(loopbackTunnel{}, "sess-a", profile)
	require.NoError(t, err)
	b, err := svc.Start(loopbackTunnel{}, "sess-b", profile)
	require.NoError(t, err)

	require.Len(t, svc.ForSession("sess-a"), 1)
	svc.StopSession("sess-a")

	assert.Equal(t, StatusStopped, a.Status())
	assert.Empty(t, svc.ForSession("sess-a"))
	assert.Equal(t, StatusActive, b.Status(), "other sessions' forwards keep running")
	b.Stop()
}
