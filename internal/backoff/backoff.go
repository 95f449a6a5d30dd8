// Package backoff computes a client's reconnect delay sequence: initial
// delay, doubling, capped, bounded attempt count. Grounded on the
// Policy-struct shape of a retry policy elsewhere in the corpus
// (MaxAttempts/InitialBackoff/MaxBackoff/Multiplier), minus the
// interceptor/invoker wrapper that doesn't apply here — the client
// endpoint drives each attempt itself since a reconnect needs a fresh
// transport and a receive-and-branch on ConnectAccept/ConnectDeny rather
// than a generic call/retry.
package backoff

import "time"

// Policy is a pure function of attempt number to delay.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
}

// Default returns the spec-documented client reconnect policy.
func Default() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Delay returns the wait before attempt number n (1-indexed: the delay
// before the first retry is Delay(1)). Doubles (or scales by Multiplier)
// each attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialDelay
	}
	d := float64(p.InitialDelay)
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	for i := 1; i < attempt; i++ {
		d *= mult
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt exceeds the configured attempt budget.
func (p Policy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}
