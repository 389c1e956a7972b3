package search

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatModels "tidepool/internal/domain/models/chat"
)

type fakeClient struct {
	gotQuery string
	gotOpts  Options
	resp     *Response
	err      error
}

func (f *fakeClient) Search(_ context.Context, query string, opts Options) (*Response, error) {
	f.gotQuery = query
	f.gotOpts = opts
	return f.resp, f.err
}

func testService(client Client) *Service {
	svc := NewService(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestSearchBuildsPromptBundle(t *testing.T) {
	published := time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{resp: &Response{
		Results: []Result{
			{Title: "Go 1.25 released", URL: "https://go.dev/blog", Snippet: "The release adds...", PublishedAt: &published},
			{Title: "Release notes", URL: "https://go.dev/doc", Snippet: "Full changes."},
		},
	}}

	bundle, err := testService(client).Search(context.Background(), "what's new in Go?",
		chatModels.ModelSelector{Supplier: "openai", Model: "gpt-4o"}, "", nil, "", nil, "web")
	require.NoError(t, err)

	assert.Equal(t, "what's new in Go?", bundle.UserPrompt)
	assert.Equal(t, "what's new in Go?", bundle.ResolvedQuery)
	require.Len(t, bundle.Results, 2)
	assert.Equal(t, "Go 1.25 released", bundle.Results[0].Title)
	assert.Equal(t, "https://go.dev/blog", bundle.Results[0].Link)

	assert.Contains(t, bundle.SystemPrompt, "2025-03-01")
	assert.Contains(t, bundle.SystemPrompt, "[1] Go 1.25 released")
	assert.Contains(t, bundle.SystemPrompt, "Published: 2025-02-20")
	assert.Contains(t, bundle.SystemPrompt, "[2] Release notes")
}

func TestSearchFoldsHistoryIntoQuery(t *testing.T) {
	client := &fakeClient{resp: &Response{}}

	bundle, err := testService(client).Search(context.Background(), "and the year before?",
		chatModels.ModelSelector{}, "question: GDP of France 2024?\nanswer: about 3.2 trillion USD", nil, "", nil, "web")
	require.NoError(t, err)

	assert.Contains(t, client.gotQuery, "GDP of France 2024")
	assert.Contains(t, client.gotQuery, "and the year before?")
	assert.Equal(t, "and the year before?", bundle.UserPrompt)
	assert.Empty(t, bundle.SystemPrompt)
}

func TestSearchMapsNewsTopic(t *testing.T) {
	client := &fakeClient{resp: &Response{}}

	_, err := testService(client).Search(context.Background(), "latest elections",
		chatModels.ModelSelector{}, "", nil, "", nil, "news")
	require.NoError(t, err)

	assert.Equal(t, "news", client.gotOpts.Topic)
	assert.Equal(t, defaultMaxResults, client.gotOpts.MaxResults)
}

func TestTavilyClientSearch(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(tavilyResponse{
			Query: "test query",
			Results: []tavilyResult{
				{Title: "First", URL: "https://example.com", Content: "snippet", Score: 0.91, PublishedDate: "2025-01-15T00:00:00Z"},
			},
		})
	}))
	defer server.Close()

	client := NewTavilyClient("tvly-key")
	client.baseURL = server.URL

	resp, err := client.Search(context.Background(), "test query", Options{MaxResults: 3, Topic: "news"})
	require.NoError(t, err)

	assert.Equal(t, "tvly-key", gotBody["api_key"])
	assert.Equal(t, "test query", gotBody["query"])
	assert.Equal(t, float64(3), gotBody["max_results"])
	assert.Equal(t, "news", gotBody["topic"])

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "First", resp.Results[0].Title)
	assert.InDelta(t, 0.91, resp.Results[0].Score, 1e-9)
	require.NotNil(t, resp.Results[0].PublishedAt)
	assert.Equal(t, 15, resp.Results[0].PublishedAt.Day())
}

func TestTavilyClientNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewTavilyClient("bad")
	client.baseURL = server.URL

	_, err := client.Search(context.Background(), "anything", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
