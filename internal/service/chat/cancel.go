package chat

import (
	"context"
	"sync"
)

// CancelRegistry tracks the liveness flag of each in-flight turn, keyed by
// conversation id. The streaming loop polls Alive between deltas; a stop
// request flips the flag and cancels the turn's derived context so in-flight
// backend requests abort. Safe for concurrent use: stop requests and the
// streaming task run on different goroutines.
type CancelRegistry struct {
	mu      sync.Mutex
	entries map[string]*turnEntry
}

type turnEntry struct {
	alive  bool
	cancel context.CancelFunc
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{entries: make(map[string]*turnEntry)}
}

// Begin marks a turn as live and returns the context its backend call should
// run under. A second Begin on the same conversation id replaces the previous
// entry and cancels its context (last writer wins for overlapping regenerate
// requests).
func (r *CancelRegistry) Begin(parent context.Context, conversationID string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[conversationID]; ok {
		prev.cancel()
	}
	r.entries[conversationID] = &turnEntry{alive: true, cancel: cancel}
	return ctx
}

// Stop flips the liveness flag and cancels the turn's context. It reports
// whether a live turn was found.
func (r *CancelRegistry) Stop(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[conversationID]
	if !ok || !entry.alive {
		return false
	}
	entry.alive = false
	entry.cancel()
	return true
}

// Alive reports whether the turn for a conversation is still allowed to
// stream. Unknown conversations read as stopped.
func (r *CancelRegistry) Alive(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[conversationID]
	return ok && entry.alive
}

// End removes a turn's entry and releases its context. Called when the turn
// completes on any terminal path.
func (r *CancelRegistry) End(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[conversationID]; ok {
		entry.cancel()
		delete(r.entries, conversationID)
	}
}
