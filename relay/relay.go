// Package relay implements the payload-agnostic UDP router: it admits
// connections, maps peer addresses to sessions, forwards packets by
// header destination, enforces a per-peer rate limit, and evicts stale
// peers. It never inspects game-packet contents. Generalized from the
// teacher's Server/RakNetHandler split (source/server/server.go): keep
// the single bound socket plus periodic cleanup-ticker shape, replace the
// SA-MP-specific session/player bookkeeping with the session-routing
// table this protocol's header (destination_id, client_id) needs.
package relay

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/internal/lifecycle"
	"github.com/quiet-terminal/pulserelay/internal/ratelimit"
	"github.com/quiet-terminal/pulserelay/internal/telemetry"
	"github.com/quiet-terminal/pulserelay/internal/transport"
	"github.com/quiet-terminal/pulserelay/internal/wire"
)

// peer is one tracked connection within a session.
type peer struct {
	addr      *net.UDPAddr
	clientID  uint8
	sessionID uint32
	lastSeen  time.Time
	isHost    bool

	// awaitingReconnect marks a peer rebound by handleReconnectRequest
	// before the host's accept/deny has arrived — the only state that
	// tells handleConnectDeny which requester a reconnect-originated
	// deny (which carries no session or address of its own) belongs to.
	awaitingReconnect bool
}

// session groups peers under a session identifier, one of which is host.
type session struct {
	id       uint32
	hostAddr *net.UDPAddr
	peers    map[uint8]*peer // client_id -> peer
}

// pendingConnect is a ConnectRequest awaiting the host's ConnectAccept.
type pendingConnect struct {
	addr        *net.UDPAddr
	sessionID   uint32
	desiredName string
	requestedAt time.Time
}

// Metrics are simple in-memory counters for basic observability. No
// external export — this module names no metrics endpoint in scope.
type Metrics struct {
	PacketsRouted  uint64
	PacketsDropped map[string]uint64
	ActiveSessions int
}

// Relay is a single bound UDP router.
type Relay struct {
	cfg       config.RelayConfig
	log       *telemetry.Logger
	callbacks events.RelayCallbacks
	fsm       *lifecycle.FSM
	tr        *transport.Transport

	sessions    map[uint32]*session
	peersByAddr map[string]*peer
	pending     map[string]*pendingConnect
	limiters    *ratelimit.Table
	metrics     Metrics
}

// New builds a Relay bound to cfg.Port. The transport is opened lazily by
// Start so construction never fails on a bind error.
func New(cfg config.RelayConfig, log *telemetry.Logger, callbacks events.RelayCallbacks) *Relay {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Relay{
		cfg:         cfg,
		log:         log,
		callbacks:   callbacks,
		fsm:         lifecycle.New(),
		sessions:    make(map[uint32]*session),
		peersByAddr: make(map[string]*peer),
		pending:     make(map[string]*pendingConnect),
		limiters: ratelimit.NewTable(
			cfg.MaxPacketsPerSecond, cfg.FloodWindow, cfg.FloodThreshold,
			cfg.ThrottlePenaltyDiv, cfg.MaxRateLimiters,
		),
		metrics: Metrics{PacketsDropped: make(map[string]uint64)},
	}
}

// Start binds the socket and runs the main loop until Stop is called.
// Blocks the calling goroutine; callers typically run it with `go`.
func (r *Relay) Start() error {
	if err := r.Bind(); err != nil {
		return err
	}
	return r.Serve()
}

// Bind validates the configuration, opens the socket, and transitions
// the lifecycle to Running, without entering the main loop. Split out of
// Start so a caller (notably tests) can learn the bound address — via
// Addr — before the relay starts draining its socket.
func (r *Relay) Bind() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	if err := r.fsm.Start(); err != nil {
		return err
	}
	tr, err := transport.Bind("0.0.0.0", r.cfg.Port, 0)
	if err != nil {
		r.fsm.Fail()
		return err
	}
	r.tr = tr
	r.log.Info("relay listening", zap.Stringer("addr", tr.LocalAddr()))
	return nil
}

// Addr returns the relay's bound local address. Valid only after Bind
// (or Start) has returned successfully.
func (r *Relay) Addr() *net.UDPAddr {
	return r.tr.LocalAddr()
}

// Serve runs the main loop until Stop is called. Requires Bind to have
// already succeeded.
func (r *Relay) Serve() error {
	lastCleanup := time.Now()
	for r.fsm.Running() {
		dgram, err := r.tr.Receive(r.cfg.SocketTimeout)
		if err != nil {
			r.log.Error("relay transport failure", zap.Error(err))
			r.fsm.Fail()
			return err
		}
		if dgram != nil {
			r.handleDatagram(dgram)
		}

		if time.Since(lastCleanup) >= r.cfg.CleanupInterval {
			r.cleanup(time.Now())
			lastCleanup = time.Now()
		}
		time.Sleep(r.cfg.MainLoopSleep)
	}
	return nil
}

// Stop transitions the relay to Stopping/Stopped and closes its socket.
func (r *Relay) Stop() error {
	if err := r.fsm.Stop(); err != nil {
		return err
	}
	if r.tr != nil {
		return r.tr.Close()
	}
	return nil
}

func (r *Relay) drop(addr *net.UDPAddr, reason string) {
	r.metrics.PacketsDropped[reason]++
	if r.callbacks.OnDropped != nil {
		r.callbacks.OnDropped(addr, reason)
	}
}

func (r *Relay) handleDatagram(dgram *transport.Datagram) {
	key := dgram.Addr.String()
	now := time.Now()
	if !r.limiters.Allow(key, now) {
		r.drop(dgram.Addr, "rate_limited")
		return
	}
	if p, ok := r.peersByAddr[key]; ok {
		p.lastSeen = now
	}

	pkt, err := wire.Decode(dgram.Data)
	if err != nil {
		r.log.Warn("dropping malformed packet", zap.String("addr", key), zap.Error(err))
		r.drop(dgram.Addr, "malformed")
		return
	}

	switch payload := pkt.Payload.(type) {
	case wire.ConnectRequest:
		r.handleConnectRequest(dgram.Addr, payload)
	case wire.ConnectAccept:
		r.handleConnectAccept(dgram.Addr, pkt.Header, payload)
	case wire.ReconnectRequest:
		r.handleReconnectRequest(dgram.Addr, pkt.Header, payload)
	case wire.ConnectDeny:
		r.handleConnectDeny(dgram.Addr, payload)
	case wire.DisconnectNotice:
		r.handleDisconnectNotice(dgram.Addr)
	default:
		r.route(dgram.Addr, pkt)
	}
	r.metrics.PacketsRouted++
}

func (r *Relay) send(payload wire.Payload, seq uint16, clientID, destinationID uint8, addr *net.UDPAddr) {
	if r.tr == nil {
		return
	}
	data, err := wire.Encode(wire.NewPacket(seq, clientID, destinationID, payload))
	if err != nil {
		r.log.Error("failed to encode outbound packet", zap.Error(err))
		return
	}
	if err := r.tr.Send(data, addr); err != nil {
		r.log.Warn("failed to send packet", zap.String("addr", addr.String()), zap.Error(err))
	}
}

func (r *Relay) handleConnectRequest(addr *net.UDPAddr, req wire.ConnectRequest) {
	if len(r.peersByAddr) >= r.cfg.MaxTotalConnections {
		r.send(wire.ConnectDeny{Reason: "Relay is full"}, 0, 0, 0, addr)
		return
	}
	sess := r.sessions[req.TargetSessionID]
	if sess != nil && len(sess.peers) >= r.cfg.MaxClientsPerSession {
		r.send(wire.ConnectDeny{Reason: "Session is full"}, 0, 0, 0, addr)
		return
	}
	if len(r.pending) >= r.cfg.MaxPendingConnections {
		r.send(wire.ConnectDeny{Reason: "Too many pending connections"}, 0, 0, 0, addr)
		return
	}
	if sess == nil || sess.hostAddr == nil {
		r.send(wire.ConnectDeny{Reason: "Session not found"}, 0, 0, 0, addr)
		return
	}

	r.pending[addr.String()] = &pendingConnect{
		addr: addr, sessionID: req.TargetSessionID, desiredName: req.DesiredName, requestedAt: time.Now(),
	}
	r.send(req, 0, 0, 1, sess.hostAddr)
}

// handleConnectAccept resolves the pending-entry race documented in
// DESIGN.md Open Question #1: a host's ConnectAccept names a freshly
// assigned client_id the relay hasn't bound to any address yet, and it
// carries no desired name, so the relay pairs it with the first pending
// entry it finds for the accept's session_id. Two clients joining the
// same session at the same time can be paired with each other's accept.
func (r *Relay) handleConnectAccept(hostAddr *net.UDPAddr, hdr wire.Header, acc wire.ConnectAccept) {
	if acc.AssignedClientID == 1 {
		sess := r.sessionFor(acc.SessionID)
		sess.hostAddr = hostAddr
		r.bindPeer(hostAddr, 1, acc.SessionID, true)
		r.log.Info("host registered", zap.Uint32("session_id", acc.SessionID))
		return
	}

	// A reconnect's accept targets a client_id already bound to an
	// address by handleReconnectRequest — forward it there directly
	// rather than consulting the pending table, which only holds fresh
	// ConnectRequests.
	if sess, ok := r.sessions[acc.SessionID]; ok {
		if existing, ok := sess.peers[acc.AssignedClientID]; ok {
			existing.awaitingReconnect = false
			r.send(acc, hdr.Sequence, 1, acc.AssignedClientID, existing.addr)
			return
		}
	}

	entry, key := r.findPendingBySession(acc.SessionID)
	if entry == nil {
		r.log.Warn("connect accept with no matching pending entry", zap.Uint32("session_id", acc.SessionID))
		return
	}
	delete(r.pending, key)

	p := r.bindPeer(entry.addr, acc.AssignedClientID, acc.SessionID, false)
	if r.callbacks.OnPeerAdmitted != nil {
		r.callbacks.OnPeerAdmitted(entry.addr, acc.SessionID, acc.AssignedClientID)
	}
	r.send(acc, hdr.Sequence, 1, acc.AssignedClientID, p.addr)
}

// findPendingBySession returns the first pending entry found for
// sessionID (in map iteration order) and its key. No name match is made.
func (r *Relay) findPendingBySession(sessionID uint32) (*pendingConnect, string) {
	var fallbackKey string
	var fallback *pendingConnect
	for key, entry := range r.pending {
		if entry.sessionID != sessionID {
			continue
		}
		if fallback == nil {
			fallback, fallbackKey = entry, key
		}
	}
	return fallback, fallbackKey
}

// handleConnectDeny forwards a host's refusal to the still-unbound
// requester. The deny carries no session/address information of its own
// (spec.md §3), so the relay resolves the target one of two ways: a
// fresh ConnectRequest still sitting in the pending table, or a
// reconnect already rebound by handleReconnectRequest and flagged
// awaitingReconnect — checked first since a denied reconnect must also
// be unbound, not just forwarded to.
func (r *Relay) handleConnectDeny(hostAddr *net.UDPAddr, deny wire.ConnectDeny) {
	sender, ok := r.peersByAddr[hostAddr.String()]
	if !ok || !sender.isHost {
		r.drop(hostAddr, "connect_deny_from_non_host")
		return
	}

	if sess, ok := r.sessions[sender.sessionID]; ok {
		for _, p := range sess.peers {
			if p.awaitingReconnect {
				r.send(deny, 0, 1, 0, p.addr)
				r.removePeer(p)
				return
			}
		}
	}

	entry, key := r.findPendingBySession(sender.sessionID)
	if entry == nil {
		return
	}
	delete(r.pending, key)
	r.send(deny, 0, 1, 0, entry.addr)
}

func (r *Relay) handleReconnectRequest(addr *net.UDPAddr, hdr wire.Header, req wire.ReconnectRequest) {
	sess := r.sessions[req.TargetSessionID]
	if sess == nil || sess.hostAddr == nil {
		r.send(wire.ConnectDeny{Reason: "Session not found"}, hdr.Sequence, 0, 0, addr)
		return
	}
	if old, ok := sess.peers[req.PreviousClientID]; ok {
		delete(r.peersByAddr, old.addr.String())
	}
	p := r.bindPeer(addr, req.PreviousClientID, req.TargetSessionID, false)
	p.awaitingReconnect = true
	r.send(req, hdr.Sequence, req.PreviousClientID, 1, sess.hostAddr)
}

func (r *Relay) handleDisconnectNotice(addr *net.UDPAddr) {
	p, ok := r.peersByAddr[addr.String()]
	if !ok {
		return
	}
	sess := r.sessions[p.sessionID]
	if sess != nil {
		for _, other := range sess.peers {
			if other.clientID == p.clientID {
				continue
			}
			r.send(wire.DisconnectNotice{}, 0, p.clientID, other.clientID, other.addr)
		}
	}
	r.removePeer(p)
}

func (r *Relay) route(senderAddr *net.UDPAddr, pkt wire.Packet) {
	sender, ok := r.peersByAddr[senderAddr.String()]
	if !ok {
		r.drop(senderAddr, "unknown_peer")
		return
	}
	sess := r.sessions[sender.sessionID]
	if sess == nil {
		return
	}

	data, err := wire.Encode(pkt)
	if err != nil {
		r.log.Error("failed to re-encode routed packet", zap.Error(err))
		return
	}

	if pkt.Header.DestinationID == wire.DestinationBroadcast {
		if r.tr == nil {
			return
		}
		for _, p := range sess.peers {
			if p.clientID == sender.clientID {
				continue
			}
			if err := r.tr.Send(data, p.addr); err != nil {
				r.log.Warn("broadcast send failed", zap.Error(err))
			}
		}
		return
	}

	dest, ok := sess.peers[pkt.Header.DestinationID]
	if !ok {
		r.drop(senderAddr, "unknown_destination")
		return
	}
	if r.tr == nil {
		return
	}
	if err := r.tr.Send(data, dest.addr); err != nil {
		r.log.Warn("unicast send failed", zap.Error(err))
	}
}

func (r *Relay) sessionFor(id uint32) *session {
	sess, ok := r.sessions[id]
	if !ok {
		sess = &session{id: id, peers: make(map[uint8]*peer)}
		r.sessions[id] = sess
	}
	return sess
}

func (r *Relay) bindPeer(addr *net.UDPAddr, clientID uint8, sessionID uint32, isHost bool) *peer {
	sess := r.sessionFor(sessionID)
	p := &peer{addr: addr, clientID: clientID, sessionID: sessionID, lastSeen: time.Now(), isHost: isHost}
	sess.peers[clientID] = p
	r.peersByAddr[addr.String()] = p
	return p
}

func (r *Relay) removePeer(p *peer) {
	delete(r.peersByAddr, p.addr.String())
	delete(r.pending, p.addr.String())
	sess := r.sessions[p.sessionID]
	if sess == nil {
		return
	}
	delete(sess.peers, p.clientID)
	if len(sess.peers) == 0 {
		delete(r.sessions, p.sessionID)
	}
	if r.callbacks.OnPeerEvicted != nil {
		r.callbacks.OnPeerEvicted(p.addr, p.sessionID, p.clientID)
	}
}

func (r *Relay) cleanup(now time.Time) {
	for _, sess := range r.sessions {
		for _, p := range sess.peers {
			if p.isHost {
				continue
			}
			if now.Sub(p.lastSeen) > r.cfg.ClientTimeout {
				r.removePeer(p)
			}
		}
	}
	for key, entry := range r.pending {
		if now.Sub(entry.requestedAt) > r.cfg.PendingConnTimeout {
			delete(r.pending, key)
		}
	}

	keep := make(map[string]struct{}, len(r.peersByAddr)+len(r.pending))
	for k := range r.peersByAddr {
		keep[k] = struct{}{}
	}
	for k := range r.pending {
		keep[k] = struct{}{}
	}
	r.limiters.Evict(keep)
	r.metrics.ActiveSessions = len(r.sessions)
}

// Metrics returns a snapshot of the relay's in-memory counters.
func (r *Relay) Metrics() Metrics {
	snapshot := Metrics{PacketsRouted: r.metrics.PacketsRouted, ActiveSessions: r.metrics.ActiveSessions}
	snapshot.PacketsDropped = make(map[string]uint64, len(r.metrics.PacketsDropped))
	for k, v := range r.metrics.PacketsDropped {
		snapshot.PacketsDropped[k] = v
	}
	return snapshot
}
