// Package host implements the authoritative per-session coordinator: it
// registers with the relay as client_id 1, admits clients, distributes
// session config and the packet-type registry under a pending-ACK retry
// loop, tracks reconnection with session-token rotation, and relays
// ping/pong. Generalized from the teacher's Server main loop
// (source/server/server.go) — same single-goroutine "drain socket, do
// derived work, sleep" shape — onto this protocol's session/client-table
// semantics instead of SA-MP's player list.
package host

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/internal/lifecycle"
	"github.com/quiet-terminal/pulserelay/internal/reliability"
	"github.com/quiet-terminal/pulserelay/internal/telemetry"
	"github.com/quiet-terminal/pulserelay/internal/transport"
	"github.com/quiet-terminal/pulserelay/internal/wire"
)

// connectedClient is an active session member, host's view.
type connectedClient struct {
	name     string
	token    uint64
	lastSeen time.Time
}

// disconnectedClient is retained for the reconnect grace window.
type disconnectedClient struct {
	name           string
	token          uint64
	disconnectedAt time.Time
}

// pendingAck is an outbound reliability-required packet awaiting an Ack.
type pendingAck struct {
	clientID   uint8
	payload    wire.Payload
	lastSent   time.Time
	retryCount int
}

// builtinRegistry lists the protocol's own packet types, sent to every
// newly-accepted client so PacketTypeRegistry carries real entries
// instead of always being empty.
var builtinRegistry = []wire.RegistryEntry{
	{PacketID: byte(wire.PacketConnectRequest), Name: "ConnectRequest", Description: "client join request"},
	{PacketID: byte(wire.PacketConnectAccept), Name: "ConnectAccept", Description: "session admission"},
	{PacketID: byte(wire.PacketConnectDeny), Name: "ConnectDeny", Description: "session admission refusal"},
	{PacketID: byte(wire.PacketSessionConfig), Name: "SessionConfig", Description: "session tick rate and packet size"},
	{PacketID: byte(wire.PacketReconnectRequest), Name: "ReconnectRequest", Description: "resume a disconnected session"},
	{PacketID: byte(wire.PacketPing), Name: "Ping", Description: "heartbeat request"},
	{PacketID: byte(wire.PacketPong), Name: "Pong", Description: "heartbeat reply"},
	{PacketID: byte(wire.PacketDisconnectNotice), Name: "DisconnectNotice", Description: "graceful session exit"},
	{PacketID: byte(wire.PacketAck), Name: "Ack", Description: "acknowledges prior sequences"},
}

// Host is the authoritative coordinator for one session.
type Host struct {
	cfg         config.HostConfig
	log         *telemetry.Logger
	callbacks   events.HostCallbacks
	fsm         *lifecycle.FSM
	tr          *transport.Transport
	reliability *reliability.Sender
	recv        *reliability.Receiver

	relayAddr    *net.UDPAddr
	sessionID    uint32
	hostToken    uint64
	nextSeq      uint16
	nextClientID uint8

	connected    map[uint8]*connectedClient
	disconnected map[uint8]*disconnectedClient
	pendingAcks  map[uint16]*pendingAck
	reliableDest map[uint16]uint8
}

// New builds a Host for sessionID, not yet registered with a relay.
func New(cfg config.HostConfig, log *telemetry.Logger, callbacks events.HostCallbacks, sessionID uint32) *Host {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Host{
		cfg:          cfg,
		log:          log,
		callbacks:    callbacks,
		fsm:          lifecycle.New(),
		reliability:  reliability.NewSender(cfg.AckTimeout, cfg.MaxAckRetries),
		recv:         reliability.NewReceiver(),
		sessionID:    sessionID,
		nextClientID: 2,
		connected:    make(map[uint8]*connectedClient),
		disconnected: make(map[uint8]*disconnectedClient),
		pendingAcks:  make(map[uint16]*pendingAck),
		reliableDest: make(map[uint16]uint8),
	}
}

func randomToken() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// Start binds a local transport, registers with the relay at relayAddr,
// and runs the main loop until Stop is called.
func (h *Host) Start(relayAddr *net.UDPAddr) error {
	if err := h.cfg.Validate(); err != nil {
		return err
	}
	if err := h.fsm.Start(); err != nil {
		return err
	}
	tr, err := transport.Bind("0.0.0.0", 0, h.cfg.MaxPacketSize)
	if err != nil {
		h.fsm.Fail()
		return err
	}
	h.tr = tr
	h.relayAddr = relayAddr
	h.hostToken = randomToken()

	h.send(wire.ConnectAccept{AssignedClientID: 1, SessionID: h.sessionID, SessionToken: h.hostToken}, 1, 0, h.relayAddr)
	h.log.Info("host registered", zap.Uint32("session_id", h.sessionID))

	for h.fsm.Running() {
		dgram, err := h.tr.Receive(h.cfg.SocketTimeout)
		if err != nil {
			h.log.Error("host transport failure", zap.Error(err))
			h.fsm.Fail()
			return err
		}
		if dgram != nil {
			h.handleDatagram(dgram)
		}
		h.retryAckTable(time.Now())
		h.retryReliable(time.Now())
		time.Sleep(h.cfg.ProcessingLoopSleep)
	}
	return h.shutdown()
}

// Stop requests the main loop exit on its next iteration.
func (h *Host) Stop() error { return h.fsm.Stop() }

func (h *Host) shutdown() error {
	h.broadcast(wire.DisconnectNotice{})
	deadline := time.Now().Add(h.cfg.GracefulShutdownWindow)
	for time.Now().Before(deadline) && len(h.pendingAcks) > 0 {
		dgram, err := h.tr.Receive(h.cfg.SocketTimeout)
		if err == nil && dgram != nil {
			h.handleDatagram(dgram)
		}
	}
	return h.tr.Close()
}

func (h *Host) nextSequence() uint16 {
	seq := h.nextSeq
	h.nextSeq++
	return seq
}

func (h *Host) send(payload wire.Payload, clientID, destinationID uint8, addr *net.UDPAddr) uint16 {
	seq := h.nextSequence()
	h.sendWithSequence(seq, payload, clientID, destinationID, addr)
	return seq
}

// sendWithSequence emits payload under an explicit sequence number rather
// than drawing one from nextSequence, so a caller that owns its own
// sequence space (the reliability manager) can put its own number on the
// wire and have it come back in the peer's Ack.
func (h *Host) sendWithSequence(seq uint16, payload wire.Payload, clientID, destinationID uint8, addr *net.UDPAddr) {
	if h.tr == nil {
		return
	}
	data, err := wire.Encode(wire.NewPacket(seq, clientID, destinationID, payload))
	if err != nil {
		h.log.Error("failed to encode outbound packet", zap.Error(err))
		return
	}
	if err := h.tr.Send(data, addr); err != nil {
		h.log.Warn("failed to send packet", zap.Error(err))
	}
}

func (h *Host) broadcast(payload wire.Payload) {
	h.send(payload, 1, wire.DestinationBroadcast, h.relayAddr)
}

func (h *Host) handleDatagram(dgram *transport.Datagram) {
	pkt, err := wire.Decode(dgram.Data)
	if err != nil {
		h.log.Warn("dropping malformed packet", zap.Error(err))
		return
	}

	switch payload := pkt.Payload.(type) {
	case wire.ConnectRequest:
		h.handleConnectRequest(payload)
	case wire.ReconnectRequest:
		h.handleReconnectRequest(payload)
	case wire.Ack:
		h.handleAck(payload)
	case wire.Ping:
		h.handlePing(pkt.Header.ClientID, payload)
	case wire.DisconnectNotice:
		h.handleDisconnectNotice(pkt.Header.ClientID)
	case wire.GamePacket:
		h.handleGamePacket(pkt.Header.ClientID, pkt.Header.Sequence, payload)
	default:
		// Other non-control payloads are the relay's concern to route; the
		// host has nothing to do with them here.
	}
}

func (h *Host) nameInUse(name string) bool {
	for _, c := range h.connected {
		if c.name == name {
			return true
		}
	}
	return false
}

func (h *Host) handleConnectRequest(req wire.ConnectRequest) {
	if h.nameInUse(req.DesiredName) {
		h.send(wire.ConnectDeny{Reason: "Name already in use"}, 1, wire.DestinationBroadcast, h.relayAddr)
		return
	}

	clientID := h.nextClientID
	h.nextClientID++
	token := randomToken()
	h.connected[clientID] = &connectedClient{name: req.DesiredName, token: token, lastSeen: time.Now()}

	h.send(wire.ConnectAccept{AssignedClientID: clientID, SessionID: h.sessionID, SessionToken: token}, 1, wire.DestinationBroadcast, h.relayAddr)

	time.Sleep(h.cfg.ReliabilityDelay)
	h.sendPendingAck(clientID, wire.SessionConfig{
		Version: h.cfg.ProtocolVersion, TickRate: h.cfg.TickRate, MaxPacketSize: h.cfg.MaxPacketSize,
	})
	h.send(wire.PacketTypeRegistry{Entries: builtinRegistry}, 1, clientID, h.relayAddr)

	if h.callbacks.OnClientConnect != nil {
		h.callbacks.OnClientConnect(clientID, req.DesiredName)
	}
}

func (h *Host) sendPendingAck(clientID uint8, payload wire.Payload) {
	seq := h.send(payload, 1, clientID, h.relayAddr)
	h.pendingAcks[seq] = &pendingAck{clientID: clientID, payload: payload, lastSent: time.Now()}
}

func (h *Host) handleAck(ack wire.Ack) {
	for _, seq := range ack.AcknowledgedSequences {
		delete(h.pendingAcks, seq)
		delete(h.reliableDest, seq)
	}
	h.reliability.HandleAck(ack.AcknowledgedSequences)
}

// handleGamePacket dedups and acknowledges inbound traffic on the
// reliability channel (packet_type == GamePacketFloor, the tag
// SendReliable puts on everything it emits); any other game packet type
// is an application-chosen opaque payload this layer has no opinion on.
func (h *Host) handleGamePacket(clientID uint8, seq uint16, pkt wire.GamePacket) {
	if pkt.PacketType != wire.GamePacketFloor {
		return
	}
	if !h.recv.Accept(strconv.Itoa(int(clientID)), seq) {
		return
	}
	h.send(wire.Ack{AcknowledgedSequences: []uint16{seq}}, 1, clientID, h.relayAddr)
}

// retryReliable drives the reliability manager's outbound retransmission
// and give-up bookkeeping; called from the main loop alongside
// retryAckTable.
func (h *Host) retryReliable(now time.Time) {
	retransmit, givenUp := h.reliability.Tick(now)
	for _, p := range retransmit {
		h.sendWithSequence(p.Sequence, wire.GamePacket{PacketType: wire.GamePacketFloor, Data: p.Bytes}, 1, h.reliableDest[p.Sequence], h.relayAddr)
	}
	for _, seq := range givenUp {
		dest := h.reliableDest[seq]
		delete(h.reliableDest, seq)
		h.log.Warn("giving up on unacknowledged reliable packet", zap.Uint8("destination_id", dest), zap.Uint16("sequence", seq))
		if h.callbacks.OnReliableGiveUp != nil {
			h.callbacks.OnReliableGiveUp(dest, seq)
		}
	}
}

func (h *Host) retryAckTable(now time.Time) {
	for seq, p := range h.pendingAcks {
		if now.Sub(p.lastSent) < h.cfg.AckTimeout {
			continue
		}
		if p.retryCount >= h.cfg.MaxAckRetries {
			h.log.Warn("giving up on unacknowledged packet", zap.Uint8("client_id", p.clientID), zap.Uint16("sequence", seq))
			delete(h.pendingAcks, seq)
			if h.callbacks.OnAckTimeout != nil {
				h.callbacks.OnAckTimeout(p.clientID, seq)
			}
			continue
		}
		newSeq := h.send(p.payload, 1, p.clientID, h.relayAddr)
		delete(h.pendingAcks, seq)
		p.lastSent = now
		p.retryCount++
		h.pendingAcks[newSeq] = p
	}
}

func (h *Host) handleReconnectRequest(req wire.ReconnectRequest) {
	dc, ok := h.disconnected[req.PreviousClientID]
	if !ok {
		h.send(wire.ConnectDeny{Reason: "Session expired or not found"}, 1, wire.DestinationBroadcast, h.relayAddr)
		return
	}
	if dc.token != req.SessionToken {
		h.send(wire.ConnectDeny{Reason: "Invalid session token"}, 1, wire.DestinationBroadcast, h.relayAddr)
		return
	}
	if time.Since(dc.disconnectedAt) > h.cfg.SessionTokenTimeout {
		delete(h.disconnected, req.PreviousClientID)
		h.send(wire.ConnectDeny{Reason: "Session timeout exceeded"}, 1, wire.DestinationBroadcast, h.relayAddr)
		return
	}

	newToken := randomToken()
	delete(h.disconnected, req.PreviousClientID)
	h.connected[req.PreviousClientID] = &connectedClient{name: dc.name, token: newToken, lastSeen: time.Now()}
	h.send(wire.ConnectAccept{AssignedClientID: req.PreviousClientID, SessionID: h.sessionID, SessionToken: newToken}, 1, wire.DestinationBroadcast, h.relayAddr)

	if h.callbacks.OnClientConnect != nil {
		h.callbacks.OnClientConnect(req.PreviousClientID, dc.name)
	}
}

func (h *Host) handleDisconnectNotice(clientID uint8) {
	c, ok := h.connected[clientID]
	if !ok {
		return
	}
	h.disconnected[clientID] = &disconnectedClient{name: c.name, token: c.token, disconnectedAt: time.Now()}
	delete(h.connected, clientID)
	for seq, p := range h.pendingAcks {
		if p.clientID == clientID {
			delete(h.pendingAcks, seq)
		}
	}
	for seq, dest := range h.reliableDest {
		if dest == clientID {
			h.reliability.Cancel(seq)
			delete(h.reliableDest, seq)
		}
	}
	h.recv.Forget(strconv.Itoa(int(clientID)))
	if h.callbacks.OnClientDisconnect != nil {
		h.callbacks.OnClientDisconnect(clientID, c.name)
	}
}

func (h *Host) handlePing(clientID uint8, ping wire.Ping) {
	h.send(wire.Pong{OriginalTimestampMs: ping.TimestampMs}, 1, clientID, h.relayAddr)
	if h.callbacks.OnPing != nil {
		h.callbacks.OnPing(clientID, int64(ping.TimestampMs))
	}
}

// SendGamePacket sends an opaque application payload to destinationID
// (0 = broadcast), the manual entrypoint spec.md's GamePacket variant
// needs to be exercised by a caller at all.
func (h *Host) SendGamePacket(packetType byte, data []byte, destinationID uint8) {
	h.send(wire.GamePacket{PacketType: wire.PacketType(packetType), Data: data}, 1, destinationID, h.relayAddr)
}

// SendReliable hands data to the reliability manager, which allocates the
// sequence number put directly on the wire so a returning Ack can match it
// back to the pending entry, and emits it once; the main loop's
// retryReliable retransmits it until acked or given up on.
func (h *Host) SendReliable(data []byte, destinationID uint8) uint16 {
	seq := h.reliability.Send(data, time.Now())
	h.reliableDest[seq] = destinationID
	h.sendWithSequence(seq, wire.GamePacket{PacketType: wire.GamePacketFloor, Data: data}, 1, destinationID, h.relayAddr)
	return seq
}

// ConnectedClients returns a snapshot of client_id -> name for testing
// and observability.
func (h *Host) ConnectedClients() map[uint8]string {
	out := make(map[uint8]string, len(h.connected))
	for id, c := range h.connected {
		out[id] = c.name
	}
	return out
}

// PendingReliableCount reports how many SendReliable calls are still
// awaiting acknowledgement, for testing and observability.
func (h *Host) PendingReliableCount() int { return h.reliability.Len() }
