package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
)

const defaultMaxResults = 5

// Service turns a user question into ranked web results and a synthesized
// prompt bundle for the context builder.
type Service struct {
	client Client
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a web-search service backed by the given client.
func NewService(client Client, logger *slog.Logger) *Service {
	return &Service{client: client, logger: logger, now: time.Now}
}

// Search implements the web-search collaborator. The short history is folded
// into the issued query so follow-up questions resolve their referents; the
// raw user question is kept as the user prompt.
func (s *Service) Search(ctx context.Context, query string, sel chatModels.ModelSelector, shortHistory string, docScope []string, agentName string, prior []chatModels.SearchResult, searchType string) (*chatSvc.PromptBundle, error) {
	resolved := s.resolveQuery(query, shortHistory)

	resp, err := s.client.Search(ctx, resolved, Options{
		MaxResults: defaultMaxResults,
		Topic:      topicFor(searchType),
	})
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	s.logger.Debug("web search completed",
		"query", resolved,
		"results", len(resp.Results),
	)

	results := make([]chatModels.SearchResult, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = chatModels.SearchResult{
			Title:   r.Title,
			Link:    r.URL,
			Content: r.Snippet,
		}
	}

	return &chatSvc.PromptBundle{
		UserPrompt:    query,
		SystemPrompt:  s.systemPrompt(resp.Results),
		Results:       results,
		ResolvedQuery: resolved,
	}, nil
}

// resolveQuery prefixes the query with the prior exchange so pronouns and
// ellipses in follow-ups still hit relevant pages. Search engines tolerate
// long queries better than ambiguous ones.
func (s *Service) resolveQuery(query, shortHistory string) string {
	if shortHistory == "" {
		return query
	}
	return shortHistory + "\n" + query
}

// systemPrompt renders the ranked results into numbered blocks the model can
// cite from. Results are trusted context; the model is told to answer from
// them and to say so when they do not cover the question.
func (s *Service) systemPrompt(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The current date is %s. Web search results for the user's question are below. Answer using these results and cite sources by number where relevant. If the results do not answer the question, say so.\n",
		s.now().Format("2006-01-02"))

	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, r.Title, r.URL)
		if r.PublishedAt != nil {
			fmt.Fprintf(&b, "Published: %s\n", r.PublishedAt.Format("2006-01-02"))
		}
		b.WriteString(r.Snippet)
		b.WriteString("\n")
	}
	return b.String()
}

func topicFor(searchType string) string {
	switch searchType {
	case "news":
		return "news"
	default:
		return "general"
	}
}
