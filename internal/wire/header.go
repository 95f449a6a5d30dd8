package wire

// Magic identifies this wire protocol. Two bytes, little-endian on the
// wire just like every other multi-byte field.
var Magic = [2]byte{0x50, 0x52} // "PR"

// ProtocolVersion is the header-level wire format revision. A header whose
// Version field doesn't match this is rejected before the payload is ever
// touched — distinct from the application-level "version" fields carried
// inside ConnectRequest/SessionConfig payloads (spec.md §6).
const ProtocolVersion uint8 = 1

// HeaderSize is the fixed, unvarying size of the header in bytes:
// magic(2) + version(1) + packet_type(1) + sequence(2) + client_id(1) +
// destination_id(1).
const HeaderSize = 8

// PacketType tags the payload that follows a Header.
type PacketType uint8

const (
	PacketConnectRequest     PacketType = 0x01
	PacketConnectAccept      PacketType = 0x02
	PacketConnectDeny        PacketType = 0x03
	PacketSessionConfig      PacketType = 0x04
	PacketTypeRegistryKind   PacketType = 0x05
	PacketReconnectRequest   PacketType = 0x06
	// 0x07 reserved.
	PacketPing             PacketType = 0x0B
	PacketPong             PacketType = 0x0C
	PacketDisconnectNotice PacketType = 0x0D
	PacketAck              PacketType = 0x0E

	// GamePacketFloor is the first packet_type value reserved for
	// application-defined payloads; every value at or above this is decoded
	// as a GamePacket carrying opaque bytes.
	GamePacketFloor PacketType = 0x10
)

// IsGamePacket reports whether t is an application-defined packet type.
func (t PacketType) IsGamePacket() bool {
	return t >= GamePacketFloor
}

func (t PacketType) String() string {
	switch t {
	case PacketConnectRequest:
		return "ConnectRequest"
	case PacketConnectAccept:
		return "ConnectAccept"
	case PacketConnectDeny:
		return "ConnectDeny"
	case PacketSessionConfig:
		return "SessionConfig"
	case PacketTypeRegistryKind:
		return "PacketTypeRegistry"
	case PacketReconnectRequest:
		return "ReconnectRequest"
	case PacketPing:
		return "Ping"
	case PacketPong:
		return "Pong"
	case PacketDisconnectNotice:
		return "DisconnectNotice"
	case PacketAck:
		return "Ack"
	default:
		if t.IsGamePacket() {
			return "GamePacket"
		}
		return "Reserved"
	}
}

// Destination id sentinels (spec.md §3, §6).
const (
	DestinationBroadcast uint8 = 0
	DestinationHost      uint8 = 1
	// DestinationReserved is never a valid destination_id.
	DestinationReserved uint8 = 255
)

// Header is the fixed-size envelope in front of every datagram's payload.
type Header struct {
	Magic         [2]byte
	Version       uint8
	Type          PacketType
	Sequence      uint16
	ClientID      uint8
	DestinationID uint8
}

func (h Header) encode(w *writer) {
	w.writeBytes(h.Magic[:])
	w.writeByte(h.Version)
	w.writeByte(byte(h.Type))
	w.writeUint16(h.Sequence)
	w.writeByte(h.ClientID)
	w.writeByte(h.DestinationID)
}

func decodeHeader(r *reader) (Header, error) {
	var h Header
	magic, err := r.readBytes(2)
	if err != nil {
		return h, malformed("buffer underflow reading header")
	}
	copy(h.Magic[:], magic)
	if h.Magic != Magic {
		return h, malformed("bad magic")
	}

	version, err := r.readByte()
	if err != nil {
		return h, malformed("buffer underflow reading version")
	}
	h.Version = version
	if h.Version != ProtocolVersion {
		return h, versionMismatch("unsupported header version")
	}

	typeByte, err := r.readByte()
	if err != nil {
		return h, malformed("buffer underflow reading packet type")
	}
	h.Type = PacketType(typeByte)

	seq, err := r.readUint16()
	if err != nil {
		return h, malformed("buffer underflow reading sequence")
	}
	h.Sequence = seq

	clientID, err := r.readByte()
	if err != nil {
		return h, malformed("buffer underflow reading client_id")
	}
	h.ClientID = clientID

	destID, err := r.readByte()
	if err != nil {
		return h, malformed("buffer underflow reading destination_id")
	}
	if destID == DestinationReserved {
		return h, malformed("destination_id 255 is reserved")
	}
	h.DestinationID = destID

	return h, nil
}
