// Package wire implements the binary packet codec: a fixed-size little-
// endian header followed by a typed, tagged payload. Encoding is a pure
// function of a Packet; decoding is total over any byte slice, adversarial
// or not — it returns a *DecodeError rather than panicking.
//
// This is a from-scratch little-endian codec generalized from the
// teacher's BitStream/RakNetPacket split (source/protocol/raknet.go):
// keep the "envelope struct + typed payload" shape and the "check
// remaining bytes before every read" decode discipline, drop RakNet's
// reliability-tag-driven variable header and split-packet reassembly,
// which this protocol's fixed header doesn't need.
package wire

// Packet pairs a Header with its decoded Payload.
type Packet struct {
	Header  Header
	Payload Payload
}

// Encode serializes p deterministically. The caller is responsible for
// ensuring the header's Type matches the payload's Type(); Encode does not
// cross-check, since NewPacket below always keeps them in sync.
func Encode(p Packet) ([]byte, error) {
	w := newWriter()
	p.Header.encode(w)
	p.Payload.encode(w)
	out := w.bytes()
	if len(out) > MaxDatagramBytes {
		return nil, oversizedField("encoded packet exceeds UDP datagram limit")
	}
	return out, nil
}

// NewPacket builds a Packet with a correctly-typed header for payload.
func NewPacket(sequence uint16, clientID, destinationID uint8, payload Payload) Packet {
	return Packet{
		Header: Header{
			Magic:         Magic,
			Version:       ProtocolVersion,
			Type:          payload.Type(),
			Sequence:      sequence,
			ClientID:      clientID,
			DestinationID: destinationID,
		},
		Payload: payload,
	}
}

// Decode parses a full datagram into a Packet. It never panics: any
// malformed, oversized, or version-mismatched input yields a *DecodeError.
func Decode(data []byte) (Packet, error) {
	if len(data) > MaxDatagramBytes {
		return Packet{}, oversizedField("datagram exceeds UDP datagram limit")
	}
	r := newReader(data)
	header, err := decodeHeader(r)
	if err != nil {
		return Packet{}, err
	}

	payload, err := decodePayload(r, header.Type)
	if err != nil {
		return Packet{}, err
	}

	return Packet{Header: header, Payload: payload}, nil
}

func decodePayload(r *reader, t PacketType) (Payload, error) {
	switch {
	case t == PacketConnectRequest:
		return decodeConnectRequest(r)
	case t == PacketConnectAccept:
		return decodeConnectAccept(r)
	case t == PacketConnectDeny:
		return decodeConnectDeny(r)
	case t == PacketSessionConfig:
		return decodeSessionConfig(r)
	case t == PacketTypeRegistryKind:
		return decodePacketTypeRegistry(r)
	case t == PacketReconnectRequest:
		return decodeReconnectRequest(r)
	case t == PacketPing:
		return decodePing(r)
	case t == PacketPong:
		return decodePong(r)
	case t == PacketDisconnectNotice:
		return decodeDisconnectNotice(r)
	case t == PacketAck:
		return decodeAck(r)
	case t.IsGamePacket():
		return decodeGamePacket(r, t)
	default:
		return nil, malformed("unknown packet_type")
	}
}
