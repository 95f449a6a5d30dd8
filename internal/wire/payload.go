package wire

// Field bounds enforced at decode time (spec.md §3).
const (
	MaxNameBytes        = 64
	MaxDescriptionBytes = 256
	MaxRegistryEntries  = 100
	MaxAckSequences     = 100
	// MaxDatagramBytes is the UDP datagram ceiling; the total encoded
	// packet (header + payload) must never exceed it.
	MaxDatagramBytes = 65507
)

// Payload is implemented by every typed packet body. Decode dispatches on
// Header.Type to produce one of these; GamePacket is the catch-all for any
// packet_type >= GamePacketFloor.
type Payload interface {
	Type() PacketType
	encode(w *writer)
}

// ConnectRequest is sent client -> host (via the relay) to join a session.
type ConnectRequest struct {
	Version         uint8
	DesiredName     string
	TargetSessionID uint32
	GameIdentifier  string
}

func (ConnectRequest) Type() PacketType { return PacketConnectRequest }

func (p ConnectRequest) encode(w *writer) {
	w.writeByte(p.Version)
	w.writeString32(p.DesiredName)
	w.writeUint32(p.TargetSessionID)
	w.writeString32(p.GameIdentifier)
}

func decodeConnectRequest(r *reader) (ConnectRequest, error) {
	var p ConnectRequest
	v, err := r.readByte()
	if err != nil {
		return p, malformed("connect_request.version")
	}
	p.Version = v

	name, err := r.readStringN(4)
	if err != nil {
		return p, err
	}
	if len(name) > MaxNameBytes {
		return p, oversizedField("connect_request.desired_name")
	}
	p.DesiredName = Sanitize(name)

	sid, err := r.readUint32()
	if err != nil {
		return p, malformed("connect_request.target_session_id")
	}
	p.TargetSessionID = sid

	gameID, err := r.readStringN(4)
	if err != nil {
		return p, err
	}
	p.GameIdentifier = Sanitize(gameID)

	return p, nil
}

// ConnectAccept is sent host -> client (via the relay, which intercepts and
// re-routes it based on AssignedClientID).
type ConnectAccept struct {
	AssignedClientID uint8
	SessionID        uint32
	SessionToken     uint64
}

func (ConnectAccept) Type() PacketType { return PacketConnectAccept }

func (p ConnectAccept) encode(w *writer) {
	w.writeByte(p.AssignedClientID)
	w.writeUint32(p.SessionID)
	w.writeUint64(p.SessionToken)
}

func decodeConnectAccept(r *reader) (ConnectAccept, error) {
	var p ConnectAccept
	id, err := r.readByte()
	if err != nil {
		return p, malformed("connect_accept.assigned_client_id")
	}
	p.AssignedClientID = id

	sid, err := r.readUint32()
	if err != nil {
		return p, malformed("connect_accept.session_id")
	}
	p.SessionID = sid

	token, err := r.readUint64()
	if err != nil {
		return p, malformed("connect_accept.session_token")
	}
	p.SessionToken = token

	return p, nil
}

// ConnectDeny is sent host/relay -> client to refuse admission.
type ConnectDeny struct {
	Reason string
}

func (ConnectDeny) Type() PacketType { return PacketConnectDeny }

func (p ConnectDeny) encode(w *writer) {
	w.writeString16(p.Reason)
}

func decodeConnectDeny(r *reader) (ConnectDeny, error) {
	var p ConnectDeny
	reason, err := r.readStringN(2)
	if err != nil {
		return p, err
	}
	p.Reason = Sanitize(reason)
	return p, nil
}

// ReconnectRequest is sent client -> host to resume a disconnected session.
type ReconnectRequest struct {
	SessionToken    uint64
	TargetSessionID uint32
	PreviousClientID uint8
}

func (ReconnectRequest) Type() PacketType { return PacketReconnectRequest }

func (p ReconnectRequest) encode(w *writer) {
	w.writeUint64(p.SessionToken)
	w.writeUint32(p.TargetSessionID)
	w.writeByte(p.PreviousClientID)
}

func decodeReconnectRequest(r *reader) (ReconnectRequest, error) {
	var p ReconnectRequest
	token, err := r.readUint64()
	if err != nil {
		return p, malformed("reconnect_request.session_token")
	}
	p.SessionToken = token

	sid, err := r.readUint32()
	if err != nil {
		return p, malformed("reconnect_request.target_session_id")
	}
	p.TargetSessionID = sid

	prev, err := r.readByte()
	if err != nil {
		return p, malformed("reconnect_request.previous_client_id")
	}
	p.PreviousClientID = prev

	return p, nil
}

// SessionConfig is sent host -> client and requires an Ack.
type SessionConfig struct {
	Version       uint8
	TickRate      uint32
	MaxPacketSize uint32
}

func (SessionConfig) Type() PacketType { return PacketSessionConfig }

func (p SessionConfig) encode(w *writer) {
	w.writeByte(p.Version)
	w.writeUint32(p.TickRate)
	w.writeUint32(p.MaxPacketSize)
}

func decodeSessionConfig(r *reader) (SessionConfig, error) {
	var p SessionConfig
	v, err := r.readByte()
	if err != nil {
		return p, malformed("session_config.version")
	}
	p.Version = v

	tick, err := r.readUint32()
	if err != nil {
		return p, malformed("session_config.tick_rate")
	}
	p.TickRate = tick

	maxSize, err := r.readUint32()
	if err != nil {
		return p, malformed("session_config.max_packet_size")
	}
	p.MaxPacketSize = maxSize

	return p, nil
}

// RegistryEntry describes one packet type for a PacketTypeRegistry payload.
// Descriptive only — never a dispatcher (spec.md §9).
type RegistryEntry struct {
	PacketID    uint8
	Name        string
	Description string
}

// PacketTypeRegistry is sent host -> client, describing the packet types in
// use for this session.
type PacketTypeRegistry struct {
	Entries []RegistryEntry
}

func (PacketTypeRegistry) Type() PacketType { return PacketTypeRegistryKind }

func (p PacketTypeRegistry) encode(w *writer) {
	w.writeByte(byte(len(p.Entries)))
	for _, e := range p.Entries {
		w.writeByte(e.PacketID)
		w.writeString8(e.Name)
		w.writeString16(e.Description)
	}
}

func decodePacketTypeRegistry(r *reader) (PacketTypeRegistry, error) {
	var p PacketTypeRegistry
	count, err := r.readByte()
	if err != nil {
		return p, malformed("packet_type_registry.count")
	}
	if int(count) > MaxRegistryEntries {
		return p, oversizedCollection("packet_type_registry.entries")
	}

	p.Entries = make([]RegistryEntry, 0, count)
	for i := 0; i < int(count); i++ {
		var e RegistryEntry
		id, err := r.readByte()
		if err != nil {
			return p, malformed("packet_type_registry.entries[].packet_id")
		}
		e.PacketID = id

		name, err := r.readStringN(1)
		if err != nil {
			return p, err
		}
		if len(name) > MaxNameBytes {
			return p, oversizedField("packet_type_registry.entries[].name")
		}
		e.Name = Sanitize(name)

		desc, err := r.readStringN(2)
		if err != nil {
			return p, err
		}
		if len(desc) > MaxDescriptionBytes {
			return p, oversizedField("packet_type_registry.entries[].description")
		}
		e.Description = Sanitize(desc)

		p.Entries = append(p.Entries, e)
	}
	return p, nil
}

// Ping carries the sender's clock at send time.
type Ping struct {
	TimestampMs uint64
}

func (Ping) Type() PacketType { return PacketPing }

func (p Ping) encode(w *writer) { w.writeUint64(p.TimestampMs) }

func decodePing(r *reader) (Ping, error) {
	var p Ping
	ts, err := r.readUint64()
	if err != nil {
		return p, malformed("ping.timestamp_ms")
	}
	p.TimestampMs = ts
	return p, nil
}

// Pong echoes the timestamp from the Ping it replies to.
type Pong struct {
	OriginalTimestampMs uint64
}

func (Pong) Type() PacketType { return PacketPong }

func (p Pong) encode(w *writer) { w.writeUint64(p.OriginalTimestampMs) }

func decodePong(r *reader) (Pong, error) {
	var p Pong
	ts, err := r.readUint64()
	if err != nil {
		return p, malformed("pong.original_timestamp_ms")
	}
	p.OriginalTimestampMs = ts
	return p, nil
}

// Ack acknowledges one or more previously-sent sequences.
type Ack struct {
	AcknowledgedSequences []uint16
}

func (Ack) Type() PacketType { return PacketAck }

func (p Ack) encode(w *writer) {
	w.writeByte(byte(len(p.AcknowledgedSequences)))
	for _, s := range p.AcknowledgedSequences {
		w.writeUint16(s)
	}
}

func decodeAck(r *reader) (Ack, error) {
	var p Ack
	count, err := r.readByte()
	if err != nil {
		return p, malformed("ack.count")
	}
	if int(count) > MaxAckSequences {
		return p, oversizedCollection("ack.acknowledged_sequences")
	}
	p.AcknowledgedSequences = make([]uint16, 0, count)
	for i := 0; i < int(count); i++ {
		seq, err := r.readUint16()
		if err != nil {
			return p, malformed("ack.acknowledged_sequences[]")
		}
		p.AcknowledgedSequences = append(p.AcknowledgedSequences, seq)
	}
	return p, nil
}

// DisconnectNotice carries no payload.
type DisconnectNotice struct{}

func (DisconnectNotice) Type() PacketType { return PacketDisconnectNotice }

func (DisconnectNotice) encode(*writer) {}

func decodeDisconnectNotice(*reader) (DisconnectNotice, error) {
	return DisconnectNotice{}, nil
}

// GamePacket carries opaque application bytes, tagged by header.Type rather
// than a fixed constant — any packet_type >= GamePacketFloor decodes to one
// of these (spec.md §3).
type GamePacket struct {
	PacketType PacketType
	Data       []byte
}

func (p GamePacket) Type() PacketType { return p.PacketType }

func (p GamePacket) encode(w *writer) { w.writeBytes(p.Data) }

func decodeGamePacket(r *reader, t PacketType) (GamePacket, error) {
	rest, err := r.readBytes(r.remaining())
	if err != nil {
		return GamePacket{}, err
	}
	data := make([]byte, len(rest))
	copy(data, rest)
	return GamePacket{PacketType: t, Data: data}, nil
}
