// Package ai implements the multi-key LLM dispatch layer: per-key rate
// tracking, task-affinity key routing, and a dual-provider executor with
// retry and fallback.
package ai

import (
	"sync"
	"time"
)

// rateWindow is the rolling interval a key's dispatches are counted over.
const rateWindow = 60 * time.Second

// RateLimitTracker tracks per-key dispatch timestamps in a rolling window and
// advises whether a key may be used. It is advisory only: it never blocks and
// never queues, and callers may deliberately dispatch past a refusal (the
// router's overflow path does).
type RateLimitTracker struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimitTracker returns a tracker allowing limit dispatches per key per
// rolling 60-second window.
func NewRateLimitTracker(limit int) *RateLimitTracker {
	return &RateLimitTracker{
		limit:  limit,
		window: rateWindow,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// CanDispatch reports whether one more request may be dispatched on key.
// Timestamps older than the window are discarded before counting.
func (t *RateLimitTracker) CanDispatch(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.occupancyLocked(key) < t.limit
}

// RecordDispatch appends the current timestamp to the key's window. Call once
// per actual dispatch attempt, not per logical retry of the same attempt.
func (t *RateLimitTracker) RecordDispatch(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[key] = append(t.calls[key], t.now())
}

// Occupancy returns the number of dispatches counted in the key's current
// window.
func (t *RateLimitTracker) Occupancy(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.occupancyLocked(key)
}

func (t *RateLimitTracker) occupancyLocked(key string) int {
	cutoff := t.now().Add(-t.window)
	ts := t.calls[key]
	// Drop aged-out entries; timestamps are appended in order.
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ts = ts[i:]
		t.calls[key] = ts
	}
	return len(ts)
}
