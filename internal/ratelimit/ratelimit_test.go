package ratelimit

import (
	"testing"
	"time"
)

func TestAllowUpToCapacityThenBlocks(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(5, 10*time.Second, 10, 2, now)

	for i := 0; i < 5; i++ {
		if !l.Allow(now) {
			t.Fatalf("expected token %d to be admitted", i)
		}
	}
	if l.Allow(now) {
		t.Fatal("expected 6th packet within the same second to be refused")
	}
}

func TestRefillAfterOneSecond(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(3, 10*time.Second, 10, 2, now)
	for i := 0; i < 3; i++ {
		l.Allow(now)
	}
	if l.Allow(now) {
		t.Fatal("expected bucket to be empty")
	}
	later := now.Add(time.Second)
	if !l.Allow(later) {
		t.Fatal("expected bucket to have refilled after 1s")
	}
}

func TestThrottledModeHalvesCapacity(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(10, 10*time.Second, 3, 2, now)
	for i := 0; i < 10; i++ {
		l.Allow(now)
	}
	// Drive 3 violations within the flood window to trip throttled mode.
	for i := 0; i < 3; i++ {
		if l.Allow(now) {
			t.Fatal("expected violation to be refused")
		}
	}
	if !l.Throttled() {
		t.Fatal("expected limiter to enter throttled mode after crossing flood_threshold")
	}

	later := now.Add(time.Second)
	admitted := 0
	for i := 0; i < 10; i++ {
		if l.Allow(later) {
			admitted++
		}
	}
	if admitted > 5 {
		t.Errorf("expected at most half capacity (5) admitted while throttled, got %d", admitted)
	}
}

func TestThrottleLiftsAfterFloodWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(2, time.Second, 2, 2, now)
	for i := 0; i < 2; i++ {
		l.Allow(now)
	}
	for i := 0; i < 2; i++ {
		l.Allow(now)
	}
	if !l.Throttled() {
		t.Fatal("expected throttled mode")
	}
	afterWindow := now.Add(2 * time.Second)
	l.Allow(afterWindow)
	if l.Throttled() {
		t.Fatal("expected throttled mode to lift once the flood window elapsed")
	}
}

func TestTableBoundedCapacityDropsNewKeysWithoutCreatingEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := NewTable(5, 10*time.Second, 10, 2, 2)
	if !tbl.Allow("a", now) {
		t.Fatal("expected first key to be admitted")
	}
	if !tbl.Allow("b", now) {
		t.Fatal("expected second key to be admitted")
	}
	if tbl.Allow("c", now) {
		t.Fatal("expected third key to be refused, table at capacity")
	}
	if tbl.Len() != 2 {
		t.Errorf("expected table to still have 2 entries, got %d", tbl.Len())
	}
}

func TestTableEvict(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := NewTable(5, 10*time.Second, 10, 2, 10)
	tbl.Allow("a", now)
	tbl.Allow("b", now)
	tbl.Evict(map[string]struct{}{"a": {}})
	if tbl.Len() != 1 {
		t.Errorf("expected 1 entry after evict, got %d", tbl.Len())
	}
}
