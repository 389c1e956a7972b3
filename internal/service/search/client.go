// Package search implements the web-search collaborator: an external search
// API client plus the prompt synthesis that turns ranked results into
// backend context.
package search

import (
	"context"
	"time"
)

// Client defines the interface for external search APIs.
type Client interface {
	Search(ctx context.Context, query string, opts Options) (*Response, error)
}

// Options configures search behavior.
type Options struct {
	MaxResults int
	Depth      string // "basic" or "advanced" (provider-specific)
	Topic      string // "general", "news", "finance"
}

// Response contains search results from the external API.
type Response struct {
	Results   []Result
	Query     string
	Timestamp time.Time
}

// Result represents a single search result.
type Result struct {
	Title       string
	URL         string
	Snippet     string
	PublishedAt *time.Time
	Score       float64
}
