package chat

import "sync"

// UsageRecorder counts how many turns each model key has served this
// process. Exposed read-only through the models endpoint.
type UsageRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewUsageRecorder creates an empty recorder.
func NewUsageRecorder() *UsageRecorder {
	return &UsageRecorder{counts: make(map[string]int)}
}

// Record increments the counter for a model key.
func (u *UsageRecorder) Record(modelKey string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[modelKey]++
}

// Snapshot returns a copy of the current counters.
func (u *UsageRecorder) Snapshot() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[string]int, len(u.counts))
	for k, v := range u.counts {
		out[k] = v
	}
	return out
}
