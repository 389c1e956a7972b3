// Package ollama implements the local-model backend adapter. It speaks the
// NDJSON streaming protocol of a local Ollama server and normalizes its
// chunks into the shared delta sequence.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"tidepool/internal/capabilities"
	"tidepool/internal/domain"
	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
)

const (
	minCtx = 2048
	maxCtx = 4096
	// Models at or below this parameter count get the raised ceiling.
	smallModelParams = 4
	smallModelMaxCtx = 8192

	// Reasoning-family models run at a fixed temperature on this backend.
	reasoningTemperature = 0.6
)

// Adapter opens streaming completions against a local model server.
type Adapter struct {
	baseURL string
	caps    *capabilities.Registry
	client  *http.Client
	logger  *slog.Logger
}

// NewAdapter creates a local-model adapter. The http.Client carries no
// timeout; stream lifetime is governed by the caller's context.
func NewAdapter(baseURL string, caps *capabilities.Registry, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		caps:    caps,
		client:  &http.Client{},
		logger:  logger,
	}
}

// Name returns the supplier name this adapter serves.
func (a *Adapter) Name() string { return chatModels.SupplierLocal }

// DeriveNumCtx computes the context-window size from the summed character
// length of the assembled messages: half the character count, rounded up to
// the nearest 2048-multiple, clamped to [2048, ceiling]. The ceiling comes
// from the capability table when the model key is listed there; unlisted
// models fall back to 4096, raised to 8192 for models of 4B parameters or
// fewer.
func DeriveNumCtx(messages []chatModels.Message, sel chatModels.ModelSelector, caps *capabilities.Registry) int {
	var length int
	for _, m := range messages {
		length += len(m.Content)
	}

	upper, ok := caps.LookupContextWindow(sel.Key())
	if !ok {
		upper = maxCtx
		if sel.ParameterCount() <= smallModelParams {
			upper = smallModelMaxCtx
		}
	}

	numCtx := ((length/2 + minCtx - 1) / minCtx) * minCtx
	if numCtx < minCtx {
		numCtx = minCtx
	}
	if numCtx > upper {
		numCtx = upper
	}
	return numCtx
}

// Open starts a streaming chat completion and yields normalized deltas. The
// returned channel closes when the terminal chunk arrives, the stream ends,
// or ctx is cancelled.
func (a *Adapter) Open(ctx context.Context, messages []chatModels.Message, sel chatModels.ModelSelector, opts *chatSvc.ChatOptions) (<-chan chatSvc.Delta, error) {
	if opts == nil {
		opts = &chatSvc.ChatOptions{}
	}

	reqBody := chatRequest{
		Model:    sel.Key(),
		Messages: make([]wireMessage, 0, len(messages)),
		Stream:   true,
		Options:  &options{},
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, wireMessage{
			Role:    m.Role,
			Content: m.Content,
			Images:  m.Images,
		})
	}

	reqBody.Options.NumCtx = opts.NumCtx
	if reqBody.Options.NumCtx == 0 {
		reqBody.Options.NumCtx = DeriveNumCtx(messages, sel, a.caps)
	}
	switch {
	case opts.Temperature != nil:
		reqBody.Options.Temperature = opts.Temperature
	case a.caps.IsReasoning(sel.Model):
		temp := reasoningTemperature
		reqBody.Options.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ConnectionError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &domain.ConnectionError{Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var werr wireError
		if err := json.NewDecoder(resp.Body).Decode(&werr); err == nil && werr.Error != "" {
			return nil, &domain.ProviderError{Message: werr.Error}
		}
		return nil, &domain.ProviderError{Message: "chat request failed: " + resp.Status}
	}

	deltas := make(chan chatSvc.Delta, 10)
	go a.pump(ctx, resp, sel, deltas)
	return deltas, nil
}

// pump reads NDJSON lines off the response body and forwards normalized
// deltas until the terminal chunk or cancellation.
func (a *Adapter) pump(ctx context.Context, resp *http.Response, sel chatModels.ModelSelector, deltas chan<- chatSvc.Delta) {
	defer close(deltas)
	defer a.abort(resp)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var raw localDelta
		if err := json.Unmarshal(line, &raw); err != nil {
			// Malformed lines are skipped, matching the tolerant read path.
			continue
		}

		delta := normalizeLocal(&raw, sel)

		select {
		case <-ctx.Done():
			return
		case deltas <- delta:
		}

		if raw.Done {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		a.logger.Error("local stream read failed", "model", sel.Key(), "error", err)
	}
}

// abort closes the in-flight response body. Failure to abort is logged and
// never propagated.
func (a *Adapter) abort(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		a.logger.Error("local stream abort failed", "error", err)
	}
}

// normalizeLocal converts one local wire chunk into the shared delta shape.
// Terminal chunks carry statistics rescaled from nanoseconds: total and eval
// durations to seconds, load and prompt-eval durations to milliseconds.
func normalizeLocal(raw *localDelta, sel chatModels.ModelSelector) chatSvc.Delta {
	delta := chatSvc.Delta{Content: raw.Message.Content}
	if !raw.Done {
		return delta
	}

	model := raw.Model
	if model == "" {
		model = sel.Key()
	}
	delta.Done = true
	delta.Stat = &chatModels.GenStats{
		Model:              model,
		CreatedAt:          raw.CreatedAt,
		TotalDuration:      float64(raw.TotalDuration) / 1e9,
		LoadDuration:       float64(raw.LoadDuration) / 1e6,
		PromptEvalCount:    raw.PromptEvalCount,
		PromptEvalDuration: float64(raw.PromptEvalDuration) / 1e6,
		EvalCount:          raw.EvalCount,
		EvalDuration:       float64(raw.EvalDuration) / 1e9,
	}
	return delta
}
