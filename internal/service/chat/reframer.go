package chat

import (
	"log/slog"
	"strings"

	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
	"tidepool/internal/i18n"
)

// Sink receives one client-visible fragment: model token text, a synthetic
// reasoning marker, or the localized cancellation notice. A non-nil error
// means the client is gone.
type Sink func(fragment string) error

// StreamOutcome is what one turn's streaming loop produced: the accumulated
// transcript (exactly what the client saw), the terminal stat block when the
// backend finished cleanly, and whether the turn was stopped by the user.
type StreamOutcome struct {
	Content   string
	Stat      *chatModels.GenStats
	Cancelled bool
}

// Reframer pumps the normalized delta sequence into the outgoing stream,
// wrapping reasoning segments in paired markers and accumulating the full
// transcript. Cancellation is polled once per delta, so the worst case to
// honor a stop request is one more token from the backend.
type Reframer struct {
	cancels *CancelRegistry
	catalog *i18n.Catalog
	logger  *slog.Logger
}

// NewReframer creates a reframer bound to the shared cancellation registry.
func NewReframer(cancels *CancelRegistry, catalog *i18n.Catalog, logger *slog.Logger) *Reframer {
	return &Reframer{cancels: cancels, catalog: catalog, logger: logger}
}

// Run consumes deltas until the terminal delta, cancellation or stream loss,
// emitting each fragment to the sink. Whatever it emits is what the outcome
// carries; content never ends with an unmatched reasoning marker.
func (r *Reframer) Run(conversationID string, deltas <-chan chatSvc.Delta, emit Sink) StreamOutcome {
	var acc strings.Builder
	inReasoning := false
	closed := false

	send := func(fragment string) bool {
		acc.WriteString(fragment)
		if err := emit(fragment); err != nil {
			r.logger.Warn("client write failed, ending stream", "conversation_id", conversationID, "error", err)
			return false
		}
		return true
	}

	for delta := range deltas {
		if delta.Done {
			if inReasoning && !closed {
				send(chatModels.ReasoningClose)
			}
			return StreamOutcome{Content: acc.String(), Stat: delta.Stat}
		}

		if !r.cancels.Alive(conversationID) {
			r.closeDangling(acc.String(), inReasoning, closed, send)
			send(r.catalog.T("chat.incomplete"))
			return StreamOutcome{Content: acc.String(), Cancelled: true}
		}

		if delta.Reasoning != "" {
			if !inReasoning {
				// Only synthesize the opening marker when the payload does
				// not already embed one.
				if !strings.Contains(delta.Reasoning, "<think>") && !send(chatModels.ReasoningOpen) {
					return StreamOutcome{Content: acc.String()}
				}
				inReasoning = true
			}
			if strings.Contains(delta.Reasoning, "</think>") {
				closed = true
			}
			if !send(delta.Reasoning) {
				return StreamOutcome{Content: acc.String()}
			}
		}

		if delta.Content != "" {
			if inReasoning {
				if !closed {
					if !send(chatModels.ReasoningClose) {
						return StreamOutcome{Content: acc.String()}
					}
					closed = true
				}
				inReasoning = false
			}
			if !send(delta.Content) {
				return StreamOutcome{Content: acc.String()}
			}
		}
	}

	// Channel closed without a terminal delta. On a user stop the registry
	// cancels the backend context, so the stream usually ends right here
	// with no further delta to trip the per-delta poll; check the flag once
	// more so the stop still gets its notice.
	if !r.cancels.Alive(conversationID) {
		r.closeDangling(acc.String(), inReasoning, closed, send)
		send(r.catalog.T("chat.incomplete"))
		return StreamOutcome{Content: acc.String(), Cancelled: true}
	}

	// Backend disconnected mid-stream: terminate cleanly with the partial
	// transcript, never leave a dangling reasoning segment.
	if inReasoning && !closed {
		send(chatModels.ReasoningClose)
	}
	return StreamOutcome{Content: acc.String()}
}

// closeDangling appends the closing marker when the accumulated text carries
// an open reasoning segment, whether tracked by state (compat side-field) or
// embedded inline by a local backend. Never double-closes.
func (r *Reframer) closeDangling(acc string, inReasoning, closed bool, send func(string) bool) {
	if inReasoning && !closed {
		send(chatModels.ReasoningClose)
		return
	}
	open := strings.LastIndex(acc, "<think>")
	if open != -1 && !strings.Contains(acc[open:], "</think>") {
		send(chatModels.ReasoningClose)
	}
}
