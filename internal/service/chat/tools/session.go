// Package tools implements the tool-server session used by the
// tool-augmented backend path. Tool servers are plain HTTP services: GET
// /tools lists their function definitions, POST /call executes one.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chatSvc "tidepool/internal/domain/services/chat"
)

const callTimeout = 60 * time.Second

// HTTPSession is one turn's connection to a set of tool servers. It is not
// safe for concurrent use; the adapter drives it sequentially.
type HTTPSession struct {
	http   *http.Client
	logger *slog.Logger

	// tool name -> base URL of the server that owns it
	owners map[string]string
	defs   []chatSvc.ToolDefinition
}

// NewFactory returns a ToolSessionFactory producing HTTP sessions.
func NewFactory(logger *slog.Logger) chatSvc.ToolSessionFactory {
	return func() chatSvc.ToolSession {
		return &HTTPSession{
			http:   &http.Client{Timeout: callTimeout},
			logger: logger,
			owners: make(map[string]string),
		}
	}
}

// Connect fetches the tool list of every server. Any unreachable server
// fails the whole session; a half-connected tool turn is worse than an
// early error.
func (s *HTTPSession) Connect(ctx context.Context, servers []string) error {
	for _, server := range servers {
		base := strings.TrimSuffix(server, "/")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/tools", nil)
		if err != nil {
			return fmt.Errorf("build tool list request: %w", err)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return fmt.Errorf("list tools on %s: %w", server, err)
		}

		var defs []chatSvc.ToolDefinition
		err = json.NewDecoder(resp.Body).Decode(&defs)
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Warn("tool list body close failed", "server", server, "error", cerr)
		}
		if err != nil {
			return fmt.Errorf("decode tool list from %s: %w", server, err)
		}

		for _, def := range defs {
			if _, dup := s.owners[def.Name]; dup {
				s.logger.Warn("duplicate tool name, keeping first", "tool", def.Name, "server", server)
				continue
			}
			s.owners[def.Name] = base
			s.defs = append(s.defs, def)
		}
	}
	return nil
}

// Tools returns every definition collected at connect time.
func (s *HTTPSession) Tools() []chatSvc.ToolDefinition {
	return s.defs
}

type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Call executes one tool on the server that advertised it.
func (s *HTTPSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	base, ok := s.owners[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}

	body, err := json.Marshal(callRequest{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("encode tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/call", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build tool call: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("tool %s failed (status %d): %s", name, resp.StatusCode, payload)
	}

	var out callResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode tool result: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("tool %s: %s", name, out.Error)
	}
	return out.Result, nil
}

// Close releases the session. HTTP sessions hold no persistent connection
// state beyond the transport's idle pool.
func (s *HTTPSession) Close() error {
	s.http.CloseIdleConnections()
	return nil
}
