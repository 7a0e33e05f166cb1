package ai

import (
	"log/slog"
	"sync"

	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/observability"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// KeyRouter selects which primary-provider key a task should use. Tasks have
// a soft affinity to one key; when that key is saturated the router falls
// back to a shared round-robin scan, and when every key is saturated it
// returns the designated overflow key anyway rather than failing the caller.
type KeyRouter struct {
	mu       sync.Mutex
	keys     []string
	affinity map[domain.TaskType]int
	overflow int
	cursor   int
	tracker  *RateLimitTracker
}

// NewKeyRouter builds a router over the configured keys. Affinity assigns
// tasks to keys by position (wrapping when there are fewer keys than tasks);
// the synthesis task's key doubles as the overflow key.
func NewKeyRouter(keys []string, tracker *RateLimitTracker) *KeyRouter {
	aff := make(map[domain.TaskType]int, 4)
	for i, task := range domain.AllTasks() {
		aff[task] = i % len(keys)
	}
	return &KeyRouter{
		keys:     keys,
		affinity: aff,
		overflow: aff[domain.TaskSynthesisReporting],
		tracker:  tracker,
	}
}

// Pick returns the key to dispatch task on, recording the dispatch with the
// tracker. The second return is true when the overflow key was returned past
// its limit.
func (r *KeyRouter) Pick(task domain.TaskType) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.affinity[task]; ok && r.tracker.CanDispatch(r.keys[idx]) {
		r.tracker.RecordDispatch(r.keys[idx])
		return r.keys[idx], false
	}

	// The cursor is shared across task types; heavy use of one task type can
	// skew rotation fairness for the others.
	start := r.cursor
	r.cursor = (r.cursor + 1) % len(r.keys)
	for i := 0; i < len(r.keys); i++ {
		k := r.keys[(start+i)%len(r.keys)]
		if r.tracker.CanDispatch(k) {
			r.tracker.RecordDispatch(k)
			return k, false
		}
	}

	// Every key saturated: overflow deliberately violates the limit as a last
	// resort so the caller never blocks or fails here.
	k := r.keys[r.overflow]
	r.tracker.RecordDispatch(k)
	observability.LLMKeyOverflowTotal.Inc()
	slog.Warn("all provider keys saturated; dispatching on overflow key",
		slog.String("task", string(task)),
		slog.String("key_suffix", keySuffix(k)))
	return k, true
}

// keySuffix returns the last four characters of a key for audit logging.
func keySuffix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}
