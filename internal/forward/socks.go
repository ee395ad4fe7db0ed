package forward

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
)

// Minimal SOCKS5 server side for dynamic forwards: no authentication,
// CONNECT only. Destinations are chosen per incoming connection and dialed
// through the SSH transport.

const (
	socksVersion5      = 0x05
	socksAuthNone      = 0x00
	socksCmdConnect    = 0x01
	socksAddrIPv4      = 0x01
	socksAddrDomain    = 0x03
	socksAddrIPv6      = 0x04
	socksReplyOK       = 0x00
	socksReplyFailure  = 0x01
	socksReplyCmdUnsup = 0x07
)

// socksConnect negotiates the SOCKS5 handshake on in and opens the
// requested destination through the tunnel.
func (s *Service) socksConnect(f *Forward, tunnel Tunnel, in net.Conn) (net.Conn, error) {
	target, err := socksHandshake(in)
	if err != nil {
		return nil, err
	}

	out, err := tunnel.Dial("tcp", target)
	if err != nil {
		socksReply(in, socksReplyFailure)
		return nil, fmt.Errorf("socks connect to %s failed: %w", target, err)
	}
	if err := socksReply(in, socksReplyOK); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

func socksHandshake(conn net.Conn) (string, error) {
	// Greeting: VER, NMETHODS, METHODS...
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return "", fmt.Errorf("socks greeting read failed: %w", err)
	}
	if head[0] != socksVersion5 {
		return "", fmt.Errorf("unsupported socks version %d", head[0])
	}
	methods := make([]byte, int(head[1]))
	if _, err := io.ReadFull(conn, methods); err != nil {
		return "", fmt.Errorf("socks methods read failed: %w", err)
	}
	if _, err := conn.Write([]byte{socksVersion5, socksAuthNone}); err != nil {
		return "", err
	}

	// Request: VER, CMD, RSV, ATYP, DST.ADDR, DST.PORT
	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return "", fmt.Errorf("socks request read failed: %w", err)
	}
	if req[1] != socksCmdConnect {
		socksReply(conn, socksReplyCmdUnsup)
		return "", fmt.Errorf("unsupported socks command %d", req[1])
	}

	var host string
	switch req[3] {
	case socksAddrIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", err
		}
		host = net.IP(buf).String()
	case socksAddrIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", err
		}
		host = net.IP(buf).String()
	case socksAddrDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return "", err
		}
		name := make([]byte, int(lenBuf[0]))
		if _, err := io.ReadFull(conn, name); err != nil {
			return "", err
		}
		host = string(name)
	default:
		socksReply(conn, socksReplyFailure)
		return "", fmt.Errorf("unsupported socks address type %d", req[3])
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return "", err
	}
	port := binary.BigEndian.Uint16(portBuf)
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

func socksReply(conn net.Conn, code byte) error {
	// BND.ADDR/BND.PORT are zeroed; clients ignore them for CONNECT.
	_, err := conn.Write([]byte{socksVersion5, code, 0x00, socksAddrIPv4, 0, 0, 0, 0, 0, 0})
	return err
}
