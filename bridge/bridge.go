// Package bridge exposes a flat, pointer-free handle API over relay,
// host, and client, so a foreign-language binding (cgo/FFI, out of this
// module's scope) can drive this protocol without touching Go pointers.
// This satisfies spec.md §1's "the core must expose a handle-based API
// reachable from a host language" requirement; the actual binding layer
// is not built here.
package bridge

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/quiet-terminal/pulserelay/client"
	"github.com/quiet-terminal/pulserelay/host"
	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/relay"
)

// Handle is an opaque, process-wide identifier for a relay/host/client
// instance. The zero value is never valid.
type Handle uint64

var nextHandle uint64

func allocHandle() Handle {
	return Handle(atomic.AddUint64(&nextHandle, 1))
}

var (
	mu      sync.Mutex
	relays  = make(map[Handle]*relay.Relay)
	hosts   = make(map[Handle]*host.Host)
	clients = make(map[Handle]*client.Client)
)

// ErrUnknownHandle is returned by every bridge call given a handle that
// was never allocated or was already released.
var ErrUnknownHandle = fmt.Errorf("bridge: unknown handle")

// NewRelay allocates and returns a handle to a new Relay constructed
// from cfg.
func NewRelay(cfg config.RelayConfig) (Handle, error) {
	mu.Lock()
	defer mu.Unlock()
	h := allocHandle()
	relays[h] = relay.New(cfg, nil, events.NewRelayCallbacks())
	return h, nil
}

// RelayStart starts the relay identified by h. Blocks until the relay
// stops or fails; callers typically invoke this from a dedicated thread
// on the foreign side.
func RelayStart(h Handle) error {
	mu.Lock()
	r, ok := relays[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return r.Start()
}

// RelayStop stops the relay identified by h.
func RelayStop(h Handle) error {
	mu.Lock()
	r, ok := relays[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return r.Stop()
}

// RelayRelease forgets the handle, allowing it to be garbage collected.
// Callers must have stopped the relay first.
func RelayRelease(h Handle) {
	mu.Lock()
	defer mu.Unlock()
	delete(relays, h)
}

// NewHost allocates and returns a handle to a new Host for sessionID.
func NewHost(cfg config.HostConfig, sessionID uint32) (Handle, error) {
	mu.Lock()
	defer mu.Unlock()
	h := allocHandle()
	hosts[h] = host.New(cfg, nil, events.NewHostCallbacks(), sessionID)
	return h, nil
}

// HostStart registers the host identified by h with relayAddr and runs
// its main loop. Blocks; run from a dedicated thread on the foreign side.
func HostStart(h Handle, relayHost string, relayPort int) error {
	mu.Lock()
	hh, ok := hosts[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return hh.Start(&net.UDPAddr{IP: net.ParseIP(relayHost), Port: relayPort})
}

// HostStop stops the host identified by h.
func HostStop(h Handle) error {
	mu.Lock()
	hh, ok := hosts[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return hh.Stop()
}

// HostSendGamePacket sends an opaque payload from the host identified by
// h to destinationID.
func HostSendGamePacket(h Handle, packetType byte, data []byte, destinationID uint8) error {
	mu.Lock()
	hh, ok := hosts[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	hh.SendGamePacket(packetType, data, destinationID)
	return nil
}

// HostRelease forgets the handle.
func HostRelease(h Handle) {
	mu.Lock()
	defer mu.Unlock()
	delete(hosts, h)
}

// NewClient allocates and returns a handle to a new disconnected Client.
func NewClient(cfg config.ClientConfig) (Handle, error) {
	mu.Lock()
	defer mu.Unlock()
	h := allocHandle()
	clients[h] = client.New(cfg, nil, events.NewClientCallbacks())
	return h, nil
}

// ClientConnect connects the client identified by h to a session.
func ClientConnect(h Handle, relayHost string, relayPort int, sessionID uint32, desiredName string) error {
	mu.Lock()
	c, ok := clients[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return c.Connect(&net.UDPAddr{IP: net.ParseIP(relayHost), Port: relayPort}, sessionID, desiredName)
}

// ClientRun runs the client identified by h. Blocks; run from a
// dedicated thread on the foreign side.
func ClientRun(h Handle) error {
	mu.Lock()
	c, ok := clients[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return c.Run()
}

// ClientStop stops the client identified by h.
func ClientStop(h Handle) error {
	mu.Lock()
	c, ok := clients[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return c.Stop()
}

// ClientSendGamePacket sends an opaque payload from the client
// identified by h to the host.
func ClientSendGamePacket(h Handle, packetType byte, data []byte) error {
	mu.Lock()
	c, ok := clients[h]
	mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return c.SendGamePacket(packetType, data)
}

// ClientRelease forgets the handle.
func ClientRelease(h Handle) {
	mu.Lock()
	defer mu.Unlock()
	delete(clients, h)
}
