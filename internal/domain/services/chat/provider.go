package chat

import (
	"context"

	"tidepool/internal/domain/models/chat"
)

// Delta is one normalized fragment of a streaming completion. Each backend
// adapter converts its own wire shape into this union through a single
// normalization function, so the reframer never inspects provider payloads.
type Delta struct {
	// Content is ordinary answer text.
	Content string

	// Reasoning is chain-of-thought text delivered on the distinguished
	// reasoning side-field (OpenAI-compatible backends only; local backends
	// emit reasoning inline in Content).
	Reasoning string

	// Done marks the terminal delta. Stat is only set alongside it, already
	// normalized to the storage units.
	Done bool
	Stat *chat.GenStats
}

// ChatOptions carries the per-turn request shaping an adapter applies on top
// of the assembled messages.
type ChatOptions struct {
	// Temperature overrides the backend default when non-nil.
	Temperature *float64

	// NumCtx is the context-window size for the local backend; zero means
	// the adapter derives it from the assembled message length.
	NumCtx int

	// ToolServers selects tool sessions for the tool-augmented path.
	ToolServers []string

	// SideChannel receives intermediate tool-invocation output. Fragments
	// arriving here bypass the primary delta sequence.
	SideChannel func(fragment string)
}

// Provider opens a streaming completion against one backend family and
// yields the normalized delta sequence. The returned channel is closed when
// the stream ends; mid-stream failures are delivered as the channel closing
// after the last good delta. Open fails before any delta when the backend is
// unreachable, rejects authentication, or returns a structured error during
// the handshake.
type Provider interface {
	Name() string
	Open(ctx context.Context, messages []chat.Message, sel chat.ModelSelector, opts *ChatOptions) (<-chan Delta, error)
}
