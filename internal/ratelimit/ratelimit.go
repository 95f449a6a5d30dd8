// Package ratelimit implements a per-peer token bucket with progressive
// throttling after repeated violations, keyed by the relay on source
// address. The bucket itself is golang.org/x/time/rate's continuous
// token-bucket limiter, the same package the corpus reaches for this
// exact concern (DataDog-datadog-agent, ethereum/go-ethereum,
// grafana-k6 all carry it), with the flood-window/throttle-penalty
// escalation layered on top since no pack dependency models that
// progressive-penalty shape on its own.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a single peer's token bucket plus its flood-detection state.
type Limiter struct {
	rl             *rate.Limiter
	capacity       int
	floodWindow    time.Duration
	floodThreshold int
	penaltyDiv     int

	violations     int
	firstViolation time.Time
	throttled      bool
}

// New creates a limiter starting full, with capacity tokens available
// immediately.
func New(capacity int, floodWindow time.Duration, floodThreshold, penaltyDiv int, now time.Time) *Limiter {
	if penaltyDiv <= 0 {
		penaltyDiv = 1
	}
	return &Limiter{
		rl:             rate.NewLimiter(rate.Limit(capacity), capacity),
		capacity:       capacity,
		floodWindow:    floodWindow,
		floodThreshold: floodThreshold,
		penaltyDiv:     penaltyDiv,
	}
}

// effectiveCapacity returns the bucket's capacity, halved (or divided by
// the configured penalty) while in throttled mode.
func (l *Limiter) effectiveCapacity() int {
	if l.throttled {
		c := l.capacity / l.penaltyDiv
		if c < 1 {
			c = 1
		}
		return c
	}
	return l.capacity
}

// liftThrottleIfExpired clears throttled mode once the flood window has
// elapsed since the first violation that triggered it, restoring the
// limiter to full capacity.
func (l *Limiter) liftThrottleIfExpired(now time.Time) {
	if l.throttled && now.Sub(l.firstViolation) >= l.floodWindow {
		l.throttled = false
		l.violations = 0
		l.rl.SetLimitAt(now, rate.Limit(l.capacity))
		l.rl.SetBurstAt(now, l.capacity)
	}
}

// Allow consumes one token if available, recording a violation and
// possibly entering throttled mode otherwise. Returns true iff the
// packet is admitted.
func (l *Limiter) Allow(now time.Time) bool {
	l.liftThrottleIfExpired(now)

	if l.rl.AllowN(now, 1) {
		return true
	}

	l.recordViolation(now)
	return false
}

func (l *Limiter) recordViolation(now time.Time) {
	if l.violations == 0 || now.Sub(l.firstViolation) > l.floodWindow {
		l.firstViolation = now
		l.violations = 0
	}
	l.violations++
	if !l.throttled && l.violations >= l.floodThreshold {
		l.throttled = true
		c := l.effectiveCapacity()
		l.rl.SetLimitAt(now, rate.Limit(c))
		l.rl.SetBurstAt(now, c)
	}
}

// Throttled reports whether the limiter is currently in throttled mode.
func (l *Limiter) Throttled() bool { return l.throttled }

// Table is the relay's bounded collection of per-address limiters.
type Table struct {
	capacity       int
	floodWindow    time.Duration
	floodThreshold int
	penaltyDiv     int
	maxEntries     int
	limiters       map[string]*Limiter
}

// NewTable builds an empty limiter table bounded at maxEntries.
func NewTable(capacity int, floodWindow time.Duration, floodThreshold, penaltyDiv, maxEntries int) *Table {
	return &Table{
		capacity:       capacity,
		floodWindow:    floodWindow,
		floodThreshold: floodThreshold,
		penaltyDiv:     penaltyDiv,
		maxEntries:     maxEntries,
		limiters:       make(map[string]*Limiter),
	}
}

// Allow looks up (or creates, if capacity allows) the limiter for key and
// checks it. If the table is at capacity and key is new, the packet is
// dropped without creating an entry.
func (t *Table) Allow(key string, now time.Time) bool {
	l, ok := t.limiters[key]
	if !ok {
		if len(t.limiters) >= t.maxEntries {
			return false
		}
		l = New(t.capacity, t.floodWindow, t.floodThreshold, t.penaltyDiv, now)
		t.limiters[key] = l
	}
	return l.Allow(now)
}

// Evict removes entries for keys not present in keep, used by the relay's
// cleanup pass to drop limiters for addresses that are neither active nor
// pending.
func (t *Table) Evict(keep map[string]struct{}) {
	for k := range t.limiters {
		if _, ok := keep[k]; !ok {
			delete(t.limiters, k)
		}
	}
}

// Len reports the number of tracked addresses.
func (t *Table) Len() int { return len(t.limiters) }
