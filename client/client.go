// Package client implements the non-host endpoint: it joins a session
// via the relay, drains and dispatches inbound packets each tick,
// maintains a heartbeat, and, when its caller invokes Reconnect, resumes
// the session with its stored session token under exponential backoff.
// Reconnect is never started automatically. Generalized
// from the teacher's single Server loop shape (source/server/server.go)
// onto a client-side connect/reconnect state machine the teacher never
// had (SA-MP clients are the external, unimplemented side of that
// protocol).
package client

import (
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/quiet-terminal/pulserelay/internal/backoff"
	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/internal/lifecycle"
	"github.com/quiet-terminal/pulserelay/internal/reliability"
	"github.com/quiet-terminal/pulserelay/internal/telemetry"
	"github.com/quiet-terminal/pulserelay/internal/transport"
	"github.com/quiet-terminal/pulserelay/internal/wire"
)

// ErrDenied is returned by Connect/Reconnect when the relay or host
// refuses admission; its Reason field carries the denial text.
type ErrDenied struct{ Reason string }

func (e *ErrDenied) Error() string { return "client: connection denied: " + e.Reason }

// ErrTimeout is returned by Connect when no reply arrives within
// connection_timeout.
var ErrTimeout = errors.New("client: connection timed out")

// Client is a single non-host session member.
type Client struct {
	cfg         config.ClientConfig
	log         *telemetry.Logger
	callbacks   events.ClientCallbacks
	fsm         *lifecycle.FSM
	backoff     backoff.Policy
	reliability *reliability.Sender
	recv        *reliability.Receiver

	tr        *transport.Transport
	relayAddr *net.UDPAddr
	name      string

	clientID    uint8
	sessionID   uint32
	token       uint64
	nextSeq     uint16
	lastPing    time.Time
}

// New builds a disconnected Client.
func New(cfg config.ClientConfig, log *telemetry.Logger, callbacks events.ClientCallbacks) *Client {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Client{
		cfg:       cfg,
		log:       log,
		callbacks: callbacks,
		fsm:       lifecycle.New(),
		backoff: backoff.Policy{
			MaxAttempts:  cfg.MaxReconnectAttempts,
			InitialDelay: cfg.InitialReconnectDelay,
			MaxDelay:     cfg.MaxReconnectDelay,
			Multiplier:   2,
		},
		reliability: reliability.NewSender(2*time.Second, 5),
		recv:        reliability.NewReceiver(),
	}
}

func (c *Client) nextSequence() uint16 {
	seq := c.nextSeq
	c.nextSeq++
	return seq
}

func (c *Client) send(payload wire.Payload, destinationID uint8) error {
	return c.sendWithSequence(c.nextSequence(), payload, destinationID)
}

// sendWithSequence emits payload under an explicit sequence number rather
// than drawing one from nextSequence, so a caller that owns its own
// sequence space (the reliability manager) can put its own number on the
// wire and have it come back in the host's Ack.
func (c *Client) sendWithSequence(seq uint16, payload wire.Payload, destinationID uint8) error {
	if c.tr == nil {
		return nil
	}
	data, err := wire.Encode(wire.NewPacket(seq, c.clientID, destinationID, payload))
	if err != nil {
		return err
	}
	return c.tr.Send(data, c.relayAddr)
}

// Connect binds a fresh transport, sends ConnectRequest to the host
// (via relay) for sessionID under desiredName, and blocks up to
// connection_timeout for ConnectAccept or ConnectDeny.
func (c *Client) Connect(relayAddr *net.UDPAddr, sessionID uint32, desiredName string) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	tr, err := transport.Bind("0.0.0.0", 0, 0)
	if err != nil {
		return err
	}
	c.tr = tr
	c.relayAddr = relayAddr
	c.sessionID = sessionID
	c.name = desiredName
	c.clientID = 0

	if err := c.send(wire.ConnectRequest{Version: 1, DesiredName: desiredName, TargetSessionID: sessionID}, wire.DestinationHost); err != nil {
		c.tr.Close()
		return err
	}

	deadline := time.Now().Add(c.cfg.ConnectionTimeout)
	for time.Now().Before(deadline) {
		dgram, err := c.tr.Receive(c.cfg.SocketTimeout)
		if err != nil {
			c.tr.Close()
			return err
		}
		if dgram == nil {
			continue
		}
		pkt, err := wire.Decode(dgram.Data)
		if err != nil {
			continue
		}
		switch payload := pkt.Payload.(type) {
		case wire.ConnectAccept:
			c.clientID = payload.AssignedClientID
			c.token = payload.SessionToken
			// Confirmation accept addressed to client 0. The relay has
			// already bound this source address to the new client_id
			// when it forwarded the host's accept; it finds that bound
			// peer and forwards the confirmation back to it.
			_ = c.send(wire.ConnectAccept{AssignedClientID: c.clientID, SessionID: c.sessionID, SessionToken: c.token}, 0)
			if err := c.fsm.Start(); err != nil {
				return err
			}
			c.lastPing = time.Now()
			return nil
		case wire.ConnectDeny:
			c.tr.Close()
			return &ErrDenied{Reason: payload.Reason}
		}
	}
	c.tr.Close()
	return ErrTimeout
}

// Run drains the socket non-blocking each tick, dispatches received
// packets, and sends a heartbeat ping when due. Blocks until Stop is
// called or the transport fails; callers typically run it with `go`.
func (c *Client) Run() error {
	for c.fsm.Running() {
		dgram, err := c.tr.Receive(c.cfg.SocketTimeout)
		if err != nil {
			c.log.Error("client transport failure", zap.Error(err))
			c.fsm.Fail()
			return err
		}
		if dgram != nil {
			c.dispatch(dgram.Data)
		}
		if c.cfg.AutoPing && time.Since(c.lastPing) >= c.cfg.PingInterval {
			_ = c.send(wire.Ping{TimestampMs: uint64(time.Now().UnixMilli())}, wire.DestinationHost)
			c.lastPing = time.Now()
		}
		c.retryReliable(time.Now())
		time.Sleep(c.cfg.ProcessingLoopSleep)
	}
	return c.shutdown()
}

// Stop requests Run exit on its next iteration.
func (c *Client) Stop() error { return c.fsm.Stop() }

func (c *Client) shutdown() error {
	_ = c.send(wire.DisconnectNotice{}, wire.DestinationHost)
	time.Sleep(c.cfg.DisconnectNoticeDelay)
	return c.tr.Close()
}

func (c *Client) dispatch(data []byte) {
	pkt, err := wire.Decode(data)
	if err != nil {
		return
	}
	if pkt.Header.DestinationID != wire.DestinationBroadcast && pkt.Header.DestinationID != c.clientID {
		if c.callbacks.OnWrongDestination != nil {
			c.callbacks.OnWrongDestination(pkt.Header.DestinationID)
		}
		return
	}

	switch payload := pkt.Payload.(type) {
	case wire.Pong:
		now := uint64(time.Now().UnixMilli())
		if c.callbacks.OnPong != nil {
			c.callbacks.OnPong(int64(now-payload.OriginalTimestampMs), int64(payload.OriginalTimestampMs))
		}
	case wire.SessionConfig:
		if c.callbacks.OnSessionConfig != nil {
			c.callbacks.OnSessionConfig(uint16(payload.TickRate), payload.MaxPacketSize)
		}
		_ = c.send(wire.Ack{AcknowledgedSequences: []uint16{pkt.Header.Sequence}}, wire.DestinationHost)
	case wire.PacketTypeRegistry:
		if c.callbacks.OnPacketRegistry != nil {
			c.callbacks.OnPacketRegistry(len(payload.Entries))
		}
	case wire.Ping:
		_ = c.send(wire.Pong{OriginalTimestampMs: payload.TimestampMs}, wire.DestinationHost)
	case wire.DisconnectNotice:
		if c.callbacks.OnDisconnect != nil {
			c.callbacks.OnDisconnect()
		}
	case wire.Ack:
		c.reliability.HandleAck(payload.AcknowledgedSequences)
	case wire.GamePacket:
		if payload.PacketType == wire.GamePacketFloor {
			c.handleReliableGamePacket(pkt.Header.ClientID, pkt.Header.Sequence)
		} else if c.callbacks.OnUnhandledPacket != nil {
			c.callbacks.OnUnhandledPacket(byte(payload.PacketType), data)
		}
	default:
		if c.callbacks.OnUnhandledPacket != nil {
			c.callbacks.OnUnhandledPacket(byte(pkt.Header.Type), data)
		}
	}
}

// handleReliableGamePacket dedups and acknowledges inbound traffic on the
// reliability channel (packet_type == GamePacketFloor, the tag
// SendReliable puts on everything it emits).
func (c *Client) handleReliableGamePacket(senderID uint8, seq uint16) {
	if !c.recv.Accept(strconv.Itoa(int(senderID)), seq) {
		return
	}
	_ = c.send(wire.Ack{AcknowledgedSequences: []uint16{seq}}, wire.DestinationHost)
}

// retryReliable drives the reliability manager's outbound retransmission
// and give-up bookkeeping; called every Run tick.
func (c *Client) retryReliable(now time.Time) {
	retransmit, givenUp := c.reliability.Tick(now)
	for _, p := range retransmit {
		_ = c.sendWithSequence(p.Sequence, wire.GamePacket{PacketType: wire.GamePacketFloor, Data: p.Bytes}, wire.DestinationHost)
	}
	for _, seq := range givenUp {
		c.log.Warn("giving up on unacknowledged reliable packet", zap.Uint16("sequence", seq))
		if c.callbacks.OnReliableGiveUp != nil {
			c.callbacks.OnReliableGiveUp(seq)
		}
	}
}

// Reconnect attempts to resume the session using the stored token, under
// exponential backoff: a fresh transport per attempt, giving up
// immediately on ConnectDeny and retrying on timeout, up to
// max_reconnect_attempts.
func (c *Client) Reconnect(relayAddr *net.UDPAddr) error {
	for attempt := 1; !c.backoff.Exhausted(attempt); attempt++ {
		time.Sleep(c.backoff.Delay(attempt))

		tr, err := transport.Bind("0.0.0.0", 0, 0)
		if err != nil {
			return err
		}
		c.tr = tr
		c.relayAddr = relayAddr

		seq := c.nextSequence()
		data, err := wire.Encode(wire.NewPacket(seq, c.clientID, wire.DestinationHost, wire.ReconnectRequest{
			SessionToken: c.token, TargetSessionID: c.sessionID, PreviousClientID: c.clientID,
		}))
		if err != nil {
			tr.Close()
			return err
		}
		if err := c.tr.Send(data, relayAddr); err != nil {
			tr.Close()
			continue
		}

		reply, ok := c.awaitReply(c.cfg.ConnectionTimeout)
		if !ok {
			tr.Close()
			continue
		}
		switch payload := reply.Payload.(type) {
		case wire.ConnectAccept:
			c.token = payload.SessionToken
			return nil
		case wire.ConnectDeny:
			tr.Close()
			return &ErrDenied{Reason: payload.Reason}
		}
		tr.Close()
	}
	return ErrTimeout
}

func (c *Client) awaitReply(timeout time.Duration) (wire.Packet, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		dgram, err := c.tr.Receive(c.cfg.SocketTimeout)
		if err != nil || dgram == nil {
			continue
		}
		pkt, err := wire.Decode(dgram.Data)
		if err != nil {
			continue
		}
		return pkt, true
	}
	return wire.Packet{}, false
}

// SendGamePacket sends an opaque application payload to the host.
func (c *Client) SendGamePacket(packetType byte, data []byte) error {
	return c.send(wire.GamePacket{PacketType: wire.PacketType(packetType), Data: data}, wire.DestinationHost)
}

// SendReliable hands data to the reliability manager, which allocates the
// sequence number put directly on the wire so a returning Ack can match it
// back to the pending entry, and emits it once; Run's retryReliable
// retransmits it until acked or given up on.
func (c *Client) SendReliable(data []byte) uint16 {
	seq := c.reliability.Send(data, time.Now())
	_ = c.sendWithSequence(seq, wire.GamePacket{PacketType: wire.GamePacketFloor, Data: data}, wire.DestinationHost)
	return seq
}

// ClientID reports the client_id assigned on connect (0 before connect).
func (c *Client) ClientID() uint8 { return c.clientID }

// SessionToken reports the current reconnect token.
func (c *Client) SessionToken() uint64 { return c.token }
