// Package integration exercises five of the six scenarios from spec.md §8
// end to end (happy-path connect, name collision, broadcast routing,
// reconnect, ACK-retry exhaustion; the rate-limit throttle scenario is
// covered by internal/ratelimit's unit tests), plus a reliable
// game-packet round trip: a real relay, host, and client (or several), each over loopback
// UDP on ephemeral ports, matching the teacher's own willingness to test
// its protocol stack directly against the wire rather than mocking the
// socket (raknet_test.go, raknet_ack_test.go).
package integration

import (
	"net"
	"testing"
	"time"

	"github.com/quiet-terminal/pulserelay/client"
	"github.com/quiet-terminal/pulserelay/host"
	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/relay"
)

func startRelay(t *testing.T) (*relay.Relay, *net.UDPAddr) {
	t.Helper()
	cfg := config.DefaultRelayConfig()
	cfg.Port = 0
	cfg.ClientTimeout = 2 * time.Second
	cfg.CleanupInterval = 200 * time.Millisecond
	cfg.PendingConnTimeout = 2 * time.Second
	r := relay.New(cfg, nil, events.NewRelayCallbacks())
	if err := r.Bind(); err != nil {
		t.Fatalf("relay bind: %v", err)
	}
	addr := r.Addr()
	go r.Serve()
	t.Cleanup(func() { r.Stop() })
	return r, addr
}

func startHost(t *testing.T, relayAddr *net.UDPAddr, sessionID uint32) *host.Host {
	t.Helper()
	cfg := config.DefaultHostConfig()
	cfg.ReliabilityDelay = 5 * time.Millisecond
	cfg.AckTimeout = 200 * time.Millisecond
	h := host.New(cfg, nil, events.NewHostCallbacks(), sessionID)
	go h.Start(relayAddr)
	t.Cleanup(func() { h.Stop() })
	// Give the host time to register with the relay before any client
	// tries to join the session.
	time.Sleep(50 * time.Millisecond)
	return h
}

func newClient(t *testing.T) *client.Client {
	return newClientWithCallbacks(t, events.NewClientCallbacks())
}

func newClientWithCallbacks(t *testing.T, callbacks events.ClientCallbacks) *client.Client {
	t.Helper()
	cfg := config.DefaultClientConfig()
	cfg.ConnectionTimeout = 2 * time.Second
	cfg.AutoPing = false
	return client.New(cfg, nil, callbacks)
}

func TestHappyPathConnect(t *testing.T) {
	_, relayAddr := startRelay(t)
	h := startHost(t, relayAddr, 12345)

	c := newClient(t)
	if err := c.Connect(relayAddr, 12345, "Alice"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Stop() })

	if c.ClientID() != 2 {
		t.Errorf("expected client_id 2, got %d", c.ClientID())
	}
	if c.SessionToken() == 0 {
		t.Error("expected a non-zero session token")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if names := h.ConnectedClients(); len(names) == 1 && names[2] == "Alice" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected host's connected-clients table to contain {2: Alice}, got %v", h.ConnectedClients())
}

func TestNameCollision(t *testing.T) {
	_, relayAddr := startRelay(t)
	startHost(t, relayAddr, 12345)

	first := newClient(t)
	if err := first.Connect(relayAddr, 12345, "Alice"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	t.Cleanup(func() { first.Stop() })
	if first.ClientID() != 2 {
		t.Fatalf("expected first client to get id 2, got %d", first.ClientID())
	}

	second := newClient(t)
	err := second.Connect(relayAddr, 12345, "Alice")
	if err == nil {
		t.Fatal("expected second connect with a duplicate name to be denied")
	}
	denied, ok := err.(*client.ErrDenied)
	if !ok || denied.Reason != "Name already in use" {
		t.Fatalf("expected ErrDenied(\"Name already in use\"), got %v", err)
	}
}

func TestBroadcastRouting(t *testing.T) {
	_, relayAddr := startRelay(t)
	startHost(t, relayAddr, 99)

	received := make([]bool, 3)
	var clients []*client.Client
	for i, name := range []string{"A", "B", "C"} {
		idx := i
		callbacks := events.NewClientCallbacks()
		callbacks.OnUnhandledPacket = func(pt byte, data []byte) {
			if pt == 0x20 {
				received[idx] = true
			}
		}
		c := newClientWithCallbacks(t, callbacks)
		if err := c.Connect(relayAddr, 99, name); err != nil {
			t.Fatalf("connect %s: %v", name, err)
		}
		go c.Run()
		t.Cleanup(func(c *client.Client) func() { return func() { c.Stop() } }(c))
		clients = append(clients, c)
	}

	if err := clients[0].SendGamePacket(0x20, []byte("hello")); err != nil {
		t.Fatalf("send game packet: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if received[1] && received[2] {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !received[1] || !received[2] {
		t.Fatalf("expected clients B and C to receive the broadcast, got %v", received)
	}
	if received[0] {
		t.Error("expected the sender not to receive its own broadcast")
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	_, relayAddr := startRelay(t)
	h := startHost(t, relayAddr, 7)

	c := newClient(t)
	if err := c.Connect(relayAddr, 7, "Carol"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	go c.Run()
	oldClientID := c.ClientID()
	oldToken := c.SessionToken()

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stop ends Run, whose shutdown path sends DisconnectNotice; give the relay and host
	// time to process it and move the client to the disconnected table.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.ConnectedClients()[oldClientID]; !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.Reconnect(relayAddr); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	if c.ClientID() != oldClientID {
		t.Errorf("expected reconnect to preserve client_id %d, got %d", oldClientID, c.ClientID())
	}
	if c.SessionToken() == oldToken {
		t.Error("expected reconnect to rotate the session token")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if names := h.ConnectedClients(); names[oldClientID] == "Carol" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected host to re-list client %d as Carol after reconnect, got %v", oldClientID, h.ConnectedClients())
}

func TestAckRetryExhaustion(t *testing.T) {
	_, relayAddr := startRelay(t)

	cfg := config.DefaultHostConfig()
	cfg.ReliabilityDelay = 5 * time.Millisecond
	cfg.AckTimeout = 100 * time.Millisecond
	cfg.MaxAckRetries = 3

	var timeouts int
	callbacks := events.NewHostCallbacks()
	callbacks.OnAckTimeout = func(clientID uint8, sequence uint16) { timeouts++ }

	h := host.New(cfg, nil, callbacks, 55)
	go h.Start(relayAddr)
	t.Cleanup(func() { h.Stop() })
	time.Sleep(50 * time.Millisecond)

	// Connect but never call Run, so the client never dispatches (and
	// therefore never Acks) the SessionConfig the host sends on admission.
	c := newClient(t)
	if err := c.Connect(relayAddr, 55, "Dave"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Stop() })

	// MaxAckRetries retransmissions, each spaced AckTimeout apart, then one
	// more AckTimeout for the give-up to register.
	wait := time.Duration(cfg.MaxAckRetries+2) * cfg.AckTimeout
	time.Sleep(wait)

	if timeouts != 1 {
		t.Fatalf("expected exactly one ack-timeout give-up, got %d", timeouts)
	}
}

func TestReliableGamePacketRoundTrip(t *testing.T) {
	_, relayAddr := startRelay(t)
	h := startHost(t, relayAddr, 42)

	c := newClient(t)
	if err := c.Connect(relayAddr, 42, "Erin"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	go c.Run()
	t.Cleanup(func() { c.Stop() })

	h.SendReliable([]byte("state-update"), c.ClientID())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.PendingReliableCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected the client to ack the host's reliable send, got %d still pending", h.PendingReliableCount())
}
