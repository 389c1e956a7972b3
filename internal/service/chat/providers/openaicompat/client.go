// Package openaicompat implements the OpenAI-compatible backend adapter and
// the tool-augmented variant layered on top of it. Both speak the SSE
// "data:" chat-completions protocol and normalize payloads into the shared
// delta sequence.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"tidepool/internal/domain"
)

const dataPrefix = "data: "

// Client is the low-level streaming client for one supplier endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for an OpenAI-compatible endpoint. baseURL is
// the API root (".../v1"); the client appends /chat/completions.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
		logger:  logger,
	}
}

// open starts a streaming completion and returns the raw payload sequence.
// Handshake failures surface as ConnectionError or ProviderError before any
// payload is delivered; read failures after the handshake close the channel.
func (c *Client) open(ctx context.Context, reqBody *chatRequest) (<-chan compatDelta, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ConnectionError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.ConnectionError{Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var werr wireError
		if err := json.NewDecoder(resp.Body).Decode(&werr); err == nil && werr.Error.Message != "" {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, &domain.ConnectionError{Message: werr.Error.Message}
			}
			return nil, &domain.ProviderError{Message: werr.Error.Message}
		}
		return nil, &domain.ProviderError{Message: "chat request failed: " + resp.Status}
	}

	payloads := make(chan compatDelta, 10)
	go c.pump(ctx, resp, payloads)
	return payloads, nil
}

// pump reads "data:" lines off the event stream until [DONE] or
// cancellation. It runs past the finish_reason payload on purpose: with
// stream_options.include_usage the token counts arrive in a trailing chunk
// with empty choices, which the consumer folds into the terminal delta.
func (c *Client) pump(ctx context.Context, resp *http.Response, payloads chan<- compatDelta) {
	defer close(payloads)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var payload compatDelta
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			c.logger.Warn("skipping malformed stream payload", "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case payloads <- payload:
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Error("compat stream read failed", "error", err)
	}
}
