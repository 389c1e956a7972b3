package sse

import (
	"fmt"
	"net/http"
	"sync"
)

// endOfStream is the explicit end-of-stream signal, always the last chunk.
const endOfStream = "\n\n[DONE]"

// StreamWriter writes raw text fragments to a continuously-flushed response.
// Fragment writes and keep-alive pings come from different goroutines, so
// every write is serialized by the mutex.
type StreamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

// NewStreamWriter prepares the response for streaming and returns the
// writer. The second return is false when the connection cannot flush.
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &StreamWriter{w: w, flusher: flusher}, true
}

// Write sends one raw fragment and flushes it.
func (s *StreamWriter) Write(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wrote = true
	if _, err := fmt.Fprint(s.w, fragment); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Wrote reports whether anything has been flushed yet, keep-alives included.
// Once true, response headers are already out.
func (s *StreamWriter) Wrote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote
}

// WriteKeepAlive sends an SSE comment line to hold the connection open while
// the backend is still connecting. Returns an error once the client is gone.
func (s *StreamWriter) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wrote = true
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteEnd sends the end-of-stream signal.
func (s *StreamWriter) WriteEnd() error {
	return s.Write(endOfStream)
}
