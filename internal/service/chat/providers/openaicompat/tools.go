package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"tidepool/internal/capabilities"
	"tidepool/internal/domain"
	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
)

// Tool rounds are capped to keep a misbehaving model from looping forever.
const maxToolRounds = 5

// ToolAdapter wraps a tool-session client around the compat streaming path.
// It is selected whenever a turn names tool servers, which forces routing
// away from the local-model path regardless of the nominal supplier.
// Intermediate tool output is surfaced through the side-channel callback,
// not the primary delta sequence.
type ToolAdapter struct {
	supplier string
	client   *Client
	caps     *capabilities.Registry
	sessions chatSvc.ToolSessionFactory
	logger   *slog.Logger
	now      func() time.Time
}

// NewToolAdapter creates a tool-augmented adapter for a supplier endpoint.
func NewToolAdapter(supplier, baseURL, apiKey string, caps *capabilities.Registry, sessions chatSvc.ToolSessionFactory, logger *slog.Logger) *ToolAdapter {
	return &ToolAdapter{
		supplier: supplier,
		client:   NewClient(baseURL, apiKey, logger),
		caps:     caps,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Name returns the supplier name this adapter routes through.
func (a *ToolAdapter) Name() string { return a.supplier }

// Open connects the tool session, starts the first completion round and
// drives tool execution rounds in the background. Handshake failures on the
// first round surface before any delta.
func (a *ToolAdapter) Open(ctx context.Context, messages []chatModels.Message, sel chatModels.ModelSelector, opts *chatSvc.ChatOptions) (<-chan chatSvc.Delta, error) {
	if opts == nil {
		opts = &chatSvc.ChatOptions{}
	}

	session := a.sessions()
	if err := session.Connect(ctx, opts.ToolServers); err != nil {
		return nil, &domain.ConnectionError{Message: "connect tool session: " + err.Error()}
	}

	reqBody := &chatRequest{
		Model:         sel.Key(),
		Messages:      toWireMessages(messages),
		Stream:        true,
		Tools:         toWireTools(session.Tools()),
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
		if cerr := session.Close(); cerr != nil {
			a.logger.Error("tool session close failed", "error", cerr)
		}
		return nil, err
	}

	deltas := make(chan chatSvc.Delta, 10)
	go a.run(ctx, session, sel, reqBody, payloads, opts, deltas)
	return deltas, nil
}

// run pumps completion rounds, executing collected tool calls between them.
func (a *ToolAdapter) run(ctx context.Context, session chatSvc.ToolSession, sel chatModels.ModelSelector, reqBody *chatRequest, payloads <-chan compatDelta, opts *chatSvc.ChatOptions, deltas chan<- chatSvc.Delta) {
	defer close(deltas)
	defer func() {
		if err := session.Close(); err != nil {
			a.logger.Error("tool session close failed", "error", err)
		}
	}()

	for round := 0; round < maxToolRounds; round++ {
		calls, finished := a.pumpRound(ctx, sel, payloads, deltas)
		if finished || len(calls) == 0 {
			return
		}

		// Feed the assistant's tool calls and their results back into the
		// conversation, then open the next round.
		reqBody.Messages = append(reqBody.Messages, wireMessage{
			Role:      "assistant",
			Content:   "",
			ToolCalls: calls,
		})
		for _, call := range calls {
			result := a.execute(ctx, session, call, opts)
			reqBody.Messages = append(reqBody.Messages, wireMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}

		next, err := a.client.open(ctx, reqBody)
		if err != nil {
			a.logger.Error("tool continuation round failed", "round", round+1, "error", err)
			return
		}
		payloads = next
	}

	a.logger.Warn("max tool rounds reached, ending stream", "model", sel.Key())
}

// pumpRound forwards one round's deltas and accumulates any tool calls the
// model requested. finished is true when a terminal payload was forwarded.
func (a *ToolAdapter) pumpRound(ctx context.Context, sel chatModels.ModelSelector, payloads <-chan compatDelta, deltas chan<- chatSvc.Delta) ([]toolCall, bool) {
	norm := newNormalizer(sel, a.now)
	collected := make(map[int]*toolCall)

	// Held back until the round drains so a trailing include_usage chunk
	// can fold its token counts in.
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
		if len(payload.Choices) > 0 {
			for _, tc := range payload.Choices[0].Delta.ToolCalls {
				acc, ok := collected[tc.Index]
				if !ok {
					acc = &toolCall{Index: tc.Index, Type: "function"}
					collected[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Function.Name = tc.Function.Name
				}
				acc.Function.Arguments += tc.Function.Arguments
			}
		}

		delta := norm.normalize(&payload)
		if delta.Content == "" && delta.Reasoning == "" {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, true
		case deltas <- delta:
		}
	}

	if terminal != nil {
		delta := norm.normalize(terminal)
		select {
		case <-ctx.Done():
		case deltas <- delta:
		}
		return nil, true
	}

	calls := make([]toolCall, 0, len(collected))
	for _, acc := range collected {
		calls = append(calls, *acc)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].Index < calls[j].Index })
	return calls, false
}

// execute runs one tool call and pushes its output through the side
// channel, wrapped in the tool-output marker.
func (a *ToolAdapter) execute(ctx context.Context, session chatSvc.ToolSession, call toolCall, opts *chatSvc.ChatOptions) string {
	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			a.logger.Warn("unparseable tool arguments", "tool", call.Function.Name, "error", err)
		}
	}

	result, err := session.Call(ctx, call.Function.Name, args)
	if err != nil {
		result = "error: " + err.Error()
	}

	if opts.SideChannel != nil {
		opts.SideChannel(fmt.Sprintf("\n%s%s: %s</tool_call>\n", chatSvc.ToolOutputMarker, call.Function.Name, result))
	}
	return result
}

func toWireTools(defs []chatSvc.ToolDefinition) []wireTool {
	tools := make([]wireTool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, wireTool{
			Type: "function",
			Function: toolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return tools
}
