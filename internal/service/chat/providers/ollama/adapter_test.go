package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tidepool/internal/capabilities"
	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testRegistry(t *testing.T) *capabilities.Registry {
	t.Helper()
	r, err := capabilities.NewRegistry()
	require.NoError(t, err)
	return r
}

func TestDeriveNumCtx(t *testing.T) {
	caps := testRegistry(t)
	// "mistral" keys carry no table entry, so they exercise the fallback
	// ceiling rule; "llama:3b" and "qwen2.5:14b" are table-listed.
	sel3b := chatModels.ModelSelector{Supplier: "ollama", Model: "mistral", Parameters: "3b"}
	sel14b := chatModels.ModelSelector{Supplier: "ollama", Model: "mistral", Parameters: "14b"}
	selLlama := chatModels.ModelSelector{Supplier: "ollama", Model: "llama", Parameters: "3b"}
	selQwen := chatModels.ModelSelector{Supplier: "ollama", Model: "qwen2.5", Parameters: "14b"}

	tests := []struct {
		name    string
		length  int
		sel     chatModels.ModelSelector
		wantCtx int
	}{
		{"short prompt floors at 2048", 100, sel3b, 2048},
		{"exactly one step", 4096, sel3b, 2048},
		{"rounds up to next step", 4098, sel3b, 4096},
		{"unlisted small model ceiling is 8192", 40000, sel3b, 8192},
		{"mid-range rounds up", 10000, sel3b, 6144},
		{"unlisted large model ceiling is 4096", 40000, sel14b, 4096},
		{"table-listed small model caps at its entry", 100000, selLlama, 8192},
		{"table entry lifts the large-model ceiling", 40000, selQwen, 20480},
		{"table entry still caps huge prompts", 200000, selQwen, 32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages := []chatModels.Message{{Role: "user", Content: strings.Repeat("a", tt.length)}}
			require.Equal(t, tt.wantCtx, DeriveNumCtx(messages, tt.sel, caps))
		})
	}
}

func TestDeriveNumCtxMatchesClampRule(t *testing.T) {
	// num_ctx == clamp(ceil(L/2 / 2048) * 2048, 2048, 8192) for an
	// unlisted small model
	caps := testRegistry(t)
	sel := chatModels.ModelSelector{Supplier: "ollama", Model: "mistral", Parameters: "3b"}
	for _, length := range []int{0, 1, 4095, 4096, 4097, 8192, 12000, 100000} {
		messages := []chatModels.Message{{Role: "user", Content: strings.Repeat("x", length)}}
		half := length / 2
		want := (half + 2047) / 2048 * 2048
		if want < 2048 {
			want = 2048
		}
		if want > 8192 {
			want = 8192
		}
		require.Equal(t, want, DeriveNumCtx(messages, sel, caps), "L=%d", length)
	}
}

func TestOpenStreamsAndNormalizes(t *testing.T) {
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"llama:3b","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama:3b","created_at":"2025-01-01T00:00:01Z","message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama:3b","created_at":"2025-01-01T00:00:02Z","message":{"role":"assistant","content":""},"done":true,"total_duration":2000000000,"load_duration":5000000,"prompt_eval_count":12,"prompt_eval_duration":400000000,"eval_count":30,"eval_duration":1500000000}`)
	}))
	defer server.Close()

	a := NewAdapter(server.URL, testRegistry(t), testLogger())
	sel := chatModels.ModelSelector{Supplier: "ollama", Model: "llama", Parameters: "3b"}
	messages := []chatModels.Message{{Role: "user", Content: "hello"}}

	deltas, err := a.Open(context.Background(), messages, sel, nil)
	require.NoError(t, err)

	var text strings.Builder
	var terminal *chatSvc.Delta
	for d := range deltas {
		if d.Done {
			d := d
			terminal = &d
			continue
		}
		text.WriteString(d.Content)
	}

	require.Equal(t, "Hello", text.String())
	require.NotNil(t, terminal)
	require.Equal(t, "llama:3b", terminal.Stat.Model)
	require.InDelta(t, 2.0, terminal.Stat.TotalDuration, 1e-9)
	require.InDelta(t, 5.0, terminal.Stat.LoadDuration, 1e-9)
	require.InDelta(t, 400.0, terminal.Stat.PromptEvalDuration, 1e-9)
	require.InDelta(t, 1.5, terminal.Stat.EvalDuration, 1e-9)
	require.Equal(t, 12, terminal.Stat.PromptEvalCount)
	require.Equal(t, 30, terminal.Stat.EvalCount)

	// Request shaping: composite model key and derived num_ctx.
	require.Equal(t, "llama:3b", gotReq.Model)
	require.Equal(t, 2048, gotReq.Options.NumCtx)
	require.Nil(t, gotReq.Options.Temperature)
}

func TestOpenAppliesReasoningTemperature(t *testing.T) {
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprintln(w, `{"model":"deepseek-r1:7b","message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer server.Close()

	a := NewAdapter(server.URL, testRegistry(t), testLogger())
	sel := chatModels.ModelSelector{Supplier: "ollama", Model: "deepseek-r1", Parameters: "7b"}

	deltas, err := a.Open(context.Background(), []chatModels.Message{{Role: "user", Content: "hi"}}, sel, nil)
	require.NoError(t, err)
	for range deltas {
	}

	require.NotNil(t, gotReq.Options.Temperature)
	require.InDelta(t, 0.6, *gotReq.Options.Temperature, 1e-9)
}

func TestOpenProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error":"model 'nope' not found"}`)
	}))
	defer server.Close()

	a := NewAdapter(server.URL, testRegistry(t), testLogger())
	sel := chatModels.ModelSelector{Supplier: "ollama", Model: "nope", Parameters: "7b"}

	_, err := a.Open(context.Background(), []chatModels.Message{{Role: "user", Content: "hi"}}, sel, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestOpenConnectionError(t *testing.T) {
	a := NewAdapter("http://127.0.0.1:1", testRegistry(t), testLogger())
	sel := chatModels.ModelSelector{Supplier: "ollama", Model: "llama", Parameters: "3b"}

	_, err := a.Open(context.Background(), []chatModels.Message{{Role: "user", Content: "hi"}}, sel, nil)
	require.Error(t, err)
}

func TestOpenHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"tok"},"done":false}`)
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	a := NewAdapter(server.URL, testRegistry(t), testLogger())
	sel := chatModels.ModelSelector{Supplier: "ollama", Model: "llama", Parameters: "3b"}

	deltas, err := a.Open(ctx, []chatModels.Message{{Role: "user", Content: "hi"}}, sel, nil)
	require.NoError(t, err)

	<-deltas // first token
	cancel()

	// Channel must close once cancellation is observed.
	for range deltas {
	}
}
