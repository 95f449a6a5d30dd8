package client

import (
	"testing"
	"time"

	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/internal/wire"
)

func newTestClient() *Client {
	return New(config.DefaultClientConfig(), nil, events.NewClientCallbacks())
}

func encode(t *testing.T, seq uint16, clientID, destinationID uint8, p wire.Payload) []byte {
	t.Helper()
	data, err := wire.Encode(wire.NewPacket(seq, clientID, destinationID, p))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNewWiresBackoffFromConfig(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.InitialReconnectDelay = 250 * time.Millisecond
	cfg.MaxReconnectDelay = 4 * time.Second
	cfg.MaxReconnectAttempts = 9
	c := New(cfg, nil, events.NewClientCallbacks())

	if c.backoff.MaxAttempts != 9 {
		t.Errorf("expected MaxAttempts 9 from config, got %d", c.backoff.MaxAttempts)
	}
	if c.backoff.InitialDelay != cfg.InitialReconnectDelay {
		t.Errorf("expected InitialDelay %v from config, got %v", cfg.InitialReconnectDelay, c.backoff.InitialDelay)
	}
	if c.backoff.MaxDelay != cfg.MaxReconnectDelay {
		t.Errorf("expected MaxDelay %v from config, got %v", cfg.MaxReconnectDelay, c.backoff.MaxDelay)
	}
}

func TestDispatchFiresWrongDestinationCallback(t *testing.T) {
	c := newTestClient()
	c.clientID = 2
	var gotDest uint8
	c.callbacks.OnWrongDestination = func(d uint8) { gotDest = d }

	data := encode(t, 1, 1, 9, wire.Ping{TimestampMs: 1})
	c.dispatch(data)
	if gotDest != 9 {
		t.Errorf("expected wrong-destination callback with dest 9, got %d", gotDest)
	}
}

func TestDispatchAcceptsBroadcastRegardlessOfClientID(t *testing.T) {
	c := newTestClient()
	c.clientID = 2
	fired := false
	c.callbacks.OnDisconnect = func() { fired = true }

	data := encode(t, 1, 1, wire.DestinationBroadcast, wire.DisconnectNotice{})
	c.dispatch(data)
	if !fired {
		t.Fatal("expected broadcast packet to be dispatched regardless of destination mismatch")
	}
}

func TestDispatchPongFiresCallbackWithRTT(t *testing.T) {
	c := newTestClient()
	c.clientID = 2
	var gotOriginal int64
	c.callbacks.OnPong = func(rtt, original int64) { gotOriginal = original }

	data := encode(t, 1, 1, 2, wire.Pong{OriginalTimestampMs: 12345})
	c.dispatch(data)
	if gotOriginal != 12345 {
		t.Errorf("got original timestamp %d, want 12345", gotOriginal)
	}
}

func TestDispatchSessionConfigFiresCallback(t *testing.T) {
	c := newTestClient()
	c.clientID = 2
	var gotTick uint16
	c.callbacks.OnSessionConfig = func(tick uint16, maxSize uint32) { gotTick = tick }

	data := encode(t, 1, 1, 2, wire.SessionConfig{TickRate: 60, MaxPacketSize: 1200})
	c.dispatch(data)
	if gotTick != 60 {
		t.Errorf("got tick rate %d, want 60", gotTick)
	}
}

func TestDispatchUnhandledPacketFallback(t *testing.T) {
	c := newTestClient()
	c.clientID = 2
	var gotType byte
	c.callbacks.OnUnhandledPacket = func(t byte, data []byte) { gotType = t }

	data := encode(t, 1, 1, 2, wire.GamePacket{PacketType: 0x20, Data: []byte{9}})
	c.dispatch(data)
	if gotType != 0x20 {
		t.Errorf("got packet type 0x%02X, want 0x20", gotType)
	}
}

func TestSendReliableThenHandleAckClearsPending(t *testing.T) {
	c := newTestClient()
	c.clientID = 2
	seq := c.SendReliable([]byte("hi"))
	if c.reliability.Len() != 1 {
		t.Fatalf("expected 1 pending reliable send, got %d", c.reliability.Len())
	}

	data := encode(t, 1, 1, 2, wire.Ack{AcknowledgedSequences: []uint16{seq}})
	c.dispatch(data)
	if c.reliability.Len() != 0 {
		t.Errorf("expected ack to clear pending reliable send, got %d remaining", c.reliability.Len())
	}
}

func TestRetryReliableRetransmitsBeforeGivingUp(t *testing.T) {
	c := newTestClient()
	c.SendReliable([]byte("hi"))
	c.retryReliable(time.Now().Add(3 * time.Second))
	if c.reliability.Len() != 1 {
		t.Fatalf("expected the retransmitted entry to remain pending, got %d", c.reliability.Len())
	}
}

func TestRetryReliableGivesUpAfterMaxRetries(t *testing.T) {
	c := newTestClient()
	var gaveUp uint16
	c.callbacks.OnReliableGiveUp = func(seq uint16) { gaveUp = seq }
	seq := c.SendReliable([]byte("hi"))

	now := time.Now()
	for i := 0; i < 6; i++ {
		now = now.Add(3 * time.Second)
		c.retryReliable(now)
	}

	if gaveUp != seq {
		t.Errorf("expected give-up callback for sequence %d, got %d", seq, gaveUp)
	}
	if c.reliability.Len() != 0 {
		t.Errorf("expected pending table empty after give-up, got %d", c.reliability.Len())
	}
}

func TestDispatchReliableGamePacketDedups(t *testing.T) {
	c := newTestClient()
	c.clientID = 2

	data := encode(t, 1, 1, 2, wire.GamePacket{PacketType: wire.GamePacketFloor, Data: []byte("x")})
	c.dispatch(data)
	if c.recv.Accept("1", 1) {
		t.Error("expected sequence 1 from sender 1 to be recognized as already seen")
	}
}
