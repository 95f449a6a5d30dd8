// Package reliability implements the opt-in retransmit-until-ACK-or-give-up
// layer available to any endpoint: a caller hands it opaque bytes, the
// manager tracks retries on its own tick, and exposes handle_ack plus
// per-source duplicate suppression for the receiving side. Grounded on
// the ACK/NACK bookkeeping in the teacher's RakNet codec
// (source/protocol/raknet.go, raknet_ack_test.go), generalized from a
// single fixed protocol's reliable layer into a caller-agnostic one that
// tracks opaque byte payloads instead of RakNet's own packet types.
package reliability

import "time"

// Pending is one outstanding reliable send awaiting acknowledgement.
type Pending struct {
	Sequence   uint16
	Bytes      []byte
	LastSent   time.Time
	RetryCount int
}

// Sender is the sending side's pending-reliable table. It owns its own
// sequence counter, a namespace entirely separate from any endpoint's
// control-packet sequence counter (see DESIGN.md Open Question #2).
type Sender struct {
	nextSeq    uint16
	pending    map[uint16]*Pending
	timeout    time.Duration
	maxRetries int
}

// NewSender builds an empty sender with the given retry timeout and
// retry budget.
func NewSender(timeout time.Duration, maxRetries int) *Sender {
	return &Sender{
		pending:    make(map[uint16]*Pending),
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Send allocates a fresh sequence number, records the pending entry, and
// returns the sequence so the caller can embed it in the packet it emits
// itself (the manager does not own a transport).
func (s *Sender) Send(payload []byte, now time.Time) uint16 {
	seq := s.nextSeq
	s.nextSeq++
	s.pending[seq] = &Pending{Sequence: seq, Bytes: payload, LastSent: now}
	return seq
}

// Tick returns the pending entries due for retransmission as of now,
// bumping their retry_count and last_sent in place, and separately
// reports sequences that have exhausted max_retries and been dropped.
func (s *Sender) Tick(now time.Time) (retransmit []Pending, givenUp []uint16) {
	for seq, p := range s.pending {
		if now.Sub(p.LastSent) < s.timeout {
			continue
		}
		if p.RetryCount >= s.maxRetries {
			givenUp = append(givenUp, seq)
			delete(s.pending, seq)
			continue
		}
		p.RetryCount++
		p.LastSent = now
		retransmit = append(retransmit, *p)
	}
	return retransmit, givenUp
}

// HandleAck removes every pending entry whose sequence appears in seqs.
func (s *Sender) HandleAck(seqs []uint16) {
	for _, seq := range seqs {
		delete(s.pending, seq)
	}
}

// Cancel drops a pending entry without an ack, used when its destination
// disconnects and further retries would be wasted.
func (s *Sender) Cancel(seq uint16) {
	delete(s.pending, seq)
}

// Len reports the number of outstanding unacknowledged sends.
func (s *Sender) Len() int { return len(s.pending) }

// sequenceDistance returns the signed cyclic distance from a to b over
// the 16-bit sequence space, in [-2^15, 2^15]; a difference of exactly
// 2^15 keeps the sign of b - a.
func sequenceDistance(a, b uint16) int {
	d := int32(b) - int32(a)
	const half = 1 << 15
	switch {
	case d > half:
		d -= 1 << 16
	case d < -half:
		d += 1 << 16
	}
	return int(d)
}

// Receiver tracks, per source key, the last sequence number delivered,
// to suppress duplicates and out-of-order-but-already-seen retransmits.
type Receiver struct {
	lastSeen map[string]uint16
	known    map[string]bool
}

// NewReceiver builds an empty duplicate-suppression table.
func NewReceiver() *Receiver {
	return &Receiver{
		lastSeen: make(map[string]uint16),
		known:    make(map[string]bool),
	}
}

// Accept reports whether (source, seq) is new and, if so, advances the
// watermark for source. A sequence is a duplicate iff its cyclic distance
// from the stored watermark is <= 0.
func (r *Receiver) Accept(source string, seq uint16) bool {
	if !r.known[source] {
		r.known[source] = true
		r.lastSeen[source] = seq
		return true
	}
	if sequenceDistance(r.lastSeen[source], seq) <= 0 {
		return false
	}
	r.lastSeen[source] = seq
	return true
}

// Forget drops the watermark for source, used when a peer disconnects.
func (r *Receiver) Forget(source string) {
	delete(r.lastSeen, source)
	delete(r.known, source)
}
