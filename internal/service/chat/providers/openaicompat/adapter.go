package openaicompat

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"tidepool/internal/capabilities"
	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
)

// Reasoning-family models get the same fixed temperature as on the local
// backend, applied at the top level of the request.
const reasoningTemperature = 0.6

// Adapter opens streaming completions against one OpenAI-compatible
// supplier. The provider manages its own context window, so no num_ctx is
// ever sent.
type Adapter struct {
	supplier string
	client   *Client
	caps     *capabilities.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdapter creates an adapter for a named supplier endpoint.
func NewAdapter(supplier, baseURL, apiKey string, caps *capabilities.Registry, logger *slog.Logger) *Adapter {
	return &Adapter{
		supplier: supplier,
		client:   NewClient(baseURL, apiKey, logger),
		caps:     caps,
		logger:   logger,
		now:      time.Now,
	}
}

// Name returns the supplier name this adapter serves.
func (a *Adapter) Name() string { return a.supplier }

// Open starts a streaming chat completion and yields normalized deltas.
func (a *Adapter) Open(ctx context.Context, messages []chatModels.Message, sel chatModels.ModelSelector, opts *chatSvc.ChatOptions) (<-chan chatSvc.Delta, error) {
	if opts == nil {
		opts = &chatSvc.ChatOptions{}
	}

	reqBody := &chatRequest{
		Model:         sel.Key(),
		Messages:      toWireMessages(messages),
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	switch {
	case opts.Temperature != nil:
		reqBody.Temperature = opts.Temperature
	case a.caps.IsReasoning(sel.Model):
		temp := reasoningTemperature
		reqBody.Temperature = &temp
	}

	payloads, err := a.client.open(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	deltas := make(chan chatSvc.Delta, 10)
	go func() {
		defer close(deltas)

		norm := newNormalizer(sel, a.now)
		// The finish_reason payload is held back until the stream drains:
		// with include_usage the token counts trail it in a chunk with
		// empty choices.
		var terminal *compatDelta
		for payload := range payloads {
			payload := payload
			if payload.terminal() {
				terminal = &payload
				continue
			}
			if terminal != nil {
				if payload.Usage != nil {
					terminal.Usage = payload.Usage
				}
				continue
			}

			delta := norm.normalize(&payload)
			select {
			case <-ctx.Done():
				return
			case deltas <- delta:
			}
		}

		if terminal != nil {
			delta := norm.normalize(terminal)
			select {
			case <-ctx.Done():
			case deltas <- delta:
			}
		}
	}()
	return deltas, nil
}

// toWireMessages shapes the assembled context for the wire. Multimodal turns
// send their typed parts; everything else sends the plain content string.
func toWireMessages(messages []chatModels.Message) []wireMessage {
	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role}
		if len(m.Parts) > 0 {
			wm.Content = m.Parts
		} else {
			wm.Content = m.Content
		}
		wire = append(wire, wm)
	}
	return wire
}

// normalizer converts compat wire payloads into the shared delta shape. The
// provider reports usage token counts but no durations, so durations are
// derived from wall-clock timestamps observed on this side.
type normalizer struct {
	sel        chatModels.ModelSelector
	now        func() time.Time
	openedAt   time.Time
	firstDelta time.Time
}

func newNormalizer(sel chatModels.ModelSelector, now func() time.Time) *normalizer {
	return &normalizer{sel: sel, now: now, openedAt: now()}
}

func (n *normalizer) normalize(payload *compatDelta) chatSvc.Delta {
	var delta chatSvc.Delta
	if len(payload.Choices) == 0 {
		return delta
	}

	choice := payload.Choices[0]
	delta.Content = choice.Delta.Content
	delta.Reasoning = choice.Delta.ReasoningContent

	if n.firstDelta.IsZero() && (delta.Content != "" || delta.Reasoning != "") {
		n.firstDelta = n.now()
	}

	if !payload.terminal() {
		return delta
	}

	endedAt := n.now()
	first := n.firstDelta
	if first.IsZero() {
		first = endedAt
	}

	stat := &chatModels.GenStats{
		Model:              n.sel.Key(),
		CreatedAt:          strconv.FormatInt(payload.Created, 10),
		PromptEvalDuration: float64(first.Sub(n.openedAt).Milliseconds()),
		EvalDuration:       endedAt.Sub(first).Seconds(),
	}
	if payload.Created > 0 {
		stat.TotalDuration = endedAt.Sub(time.Unix(payload.Created, 0)).Seconds()
	} else {
		stat.TotalDuration = endedAt.Sub(n.openedAt).Seconds()
	}
	if payload.Usage != nil {
		stat.PromptEvalCount = payload.Usage.PromptTokens
		stat.EvalCount = payload.Usage.CompletionTokens
	}

	delta.Done = true
	delta.Stat = stat
	return delta
}
