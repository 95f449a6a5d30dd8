// Package transport implements the UDP datagram transport every endpoint
// sends and receives through: bind, bounded-timeout receive, and
// pre-send size rejection. Generalized from the teacher's
// net.ListenUDP/ReadFromUDP loop (source/server/server.go), replacing its
// single always-blocking read with an explicit per-call timeout so the
// caller's main loop can interleave socket drain with retry/cleanup work.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// MaxDatagramBytes is the largest UDP datagram this transport will ever
// send or accept, matching the protocol's wire-level limit.
const MaxDatagramBytes = 65507

// ErrClosed is returned by Send/Receive once the transport has been
// closed, and wrapped by any fatal (non-timeout) socket error encountered
// during a receive.
var ErrClosed = errors.New("transport: closed")

// ErrOversized is returned by Send when the payload exceeds the
// configured maxPacketSize.
var ErrOversized = errors.New("transport: packet exceeds max_packet_size")

// Datagram pairs received bytes with the address they came from.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Transport owns one UDP socket exclusively for the lifetime of the
// endpoint that created it.
type Transport struct {
	conn          *net.UDPConn
	maxPacketSize uint32
	closed        bool
}

// Bind opens a UDP socket on host:port. port == 0 binds an ephemeral port,
// used by clients and reconnect attempts that want a fresh local address.
func Bind(host string, port int, maxPacketSize uint32) (*Transport, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s:%d: %w", host, port, err)
	}
	if maxPacketSize == 0 || maxPacketSize > MaxDatagramBytes {
		maxPacketSize = MaxDatagramBytes
	}
	return &Transport{conn: conn, maxPacketSize: maxPacketSize}, nil
}

// LocalAddr reports the bound local address, useful after an ephemeral bind.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes data to addr. Packets larger than the configured
// max_packet_size are rejected before they ever reach the socket.
func (t *Transport) Send(data []byte, addr *net.UDPAddr) error {
	if t.closed {
		return ErrClosed
	}
	if uint32(len(data)) > t.maxPacketSize {
		return ErrOversized
	}
	_, err := t.conn.WriteToUDP(data, addr)
	if err != nil {
		if t.closed {
			return ErrClosed
		}
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Receive blocks for up to timeout waiting for one datagram. A timeout
// with nothing received returns (nil, nil) — "no packet" rather than an
// error, matching the contract that transient I/O conditions are absorbed
// here rather than propagated as errors. A timeout of zero performs a
// non-blocking poll.
func (t *Transport) Receive(timeout time.Duration) (*Datagram, error) {
	if t.closed {
		return nil, ErrClosed
	}
	deadline := time.Now().Add(timeout)
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("transport: set deadline: %w", err)
	}

	buf := make([]byte, MaxDatagramBytes)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if t.closed {
			return nil, ErrClosed
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("transport: %w: %v", ErrClosed, err)
	}

	data := make([]byte, n)
	copy(data, buf[:n])
	return &Datagram{Data: data, Addr: addr}, nil
}

// Close releases the socket. Idempotent.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
