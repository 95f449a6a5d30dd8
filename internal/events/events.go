// Package events defines the named callback slots fired synchronously by
// the relay, host, and client endpoints. Generalized from the teacher's
// EventManager (core/events/events.go) — a dynamic EventType→handler-slice
// map supporting multiple subscribers per event — into one struct per
// endpoint with a fixed, named function field per event. The spec calls
// for single-purpose event sinks rather than an open vocabulary of event
// types with multiple subscribers, so each slot holds exactly one
// caller-supplied function, defaulting to a no-op.
package events

import "net"

// HostCallbacks are the event sinks a Host endpoint invokes. Every field
// defaults to a no-op; an embedder sets only the ones it cares about.
type HostCallbacks struct {
	OnClientConnect    func(clientID uint8, name string)
	OnClientDisconnect func(clientID uint8, name string)
	OnPing             func(clientID uint8, timestampMs int64)
	OnAckTimeout       func(clientID uint8, sequence uint16)
	OnReliableGiveUp   func(destinationID uint8, sequence uint16)
}

// NewHostCallbacks returns a HostCallbacks with every slot set to a no-op.
func NewHostCallbacks() HostCallbacks {
	return HostCallbacks{
		OnClientConnect:    func(uint8, string) {},
		OnClientDisconnect: func(uint8, string) {},
		OnPing:             func(uint8, int64) {},
		OnAckTimeout:       func(uint8, uint16) {},
		OnReliableGiveUp:   func(uint8, uint16) {},
	}
}

// ClientCallbacks are the event sinks a Client endpoint invokes.
type ClientCallbacks struct {
	OnPong             func(rttMs int64, originalTimestampMs int64)
	OnSessionConfig    func(tickRate uint16, maxPacketSize uint32)
	OnPacketRegistry   func(entries int)
	OnDisconnect       func()
	OnUnhandledPacket  func(packetType byte, data []byte)
	OnWrongDestination func(destinationID uint8)
	OnReliableGiveUp   func(sequence uint16)
}

// NewClientCallbacks returns a ClientCallbacks with every slot set to a no-op.
func NewClientCallbacks() ClientCallbacks {
	return ClientCallbacks{
		OnPong:             func(int64, int64) {},
		OnSessionConfig:    func(uint16, uint32) {},
		OnPacketRegistry:   func(int) {},
		OnDisconnect:       func() {},
		OnUnhandledPacket:  func(byte, []byte) {},
		OnWrongDestination: func(uint8) {},
		OnReliableGiveUp:   func(uint16) {},
	}
}

// RelayCallbacks are the event sinks a Relay fires, primarily for
// observability since the relay itself never interprets payloads.
type RelayCallbacks struct {
	OnPeerAdmitted func(addr *net.UDPAddr, sessionID uint32, clientID uint8)
	OnPeerEvicted  func(addr *net.UDPAddr, sessionID uint32, clientID uint8)
	OnDropped      func(addr *net.UDPAddr, reason string)
}

// NewRelayCallbacks returns a RelayCallbacks with every slot set to a no-op.
func NewRelayCallbacks() RelayCallbacks {
	return RelayCallbacks{
		OnPeerAdmitted: func(*net.UDPAddr, uint32, uint8) {},
		OnPeerEvicted:  func(*net.UDPAddr, uint32, uint8) {},
		OnDropped:      func(*net.UDPAddr, string) {},
	}
}
