package chat

import (
	"context"

	"tidepool/internal/domain/models/chat"
)

// PromptBundle is what retrieval and web search hand back to the context
// builder: a rewritten user prompt, a system prompt carrying the synthesized
// context, the ranked results used, and the query that was actually issued.
type PromptBundle struct {
	UserPrompt    string
	SystemPrompt  string
	Results       []chat.SearchResult
	ResolvedQuery string
}

// RetrievalService searches the document/knowledge indexes selected for a
// conversation and synthesizes an augmented prompt.
type RetrievalService interface {
	Search(ctx context.Context, query string, sel chat.ModelSelector, docScope []string, agentName string, prior []chat.SearchResult, sources []string) (*PromptBundle, error)
}

// WebSearchService reformulates the query against a web search engine. The
// shortHistory argument carries the prior question/answer pair for query
// reformulation.
type WebSearchService interface {
	Search(ctx context.Context, query string, sel chat.ModelSelector, shortHistory string, docScope []string, agentName string, prior []chat.SearchResult, searchType string) (*PromptBundle, error)
}

// AgentStore resolves the per-conversation system agent configuration.
type AgentStore interface {
	Get(name string) (*AgentConfig, error)
}

// AgentConfig is the slice of agent configuration the orchestrator needs.
type AgentConfig struct {
	Name   string
	Prompt string
}

// OCRService resolves the extracted text for an attached image reference.
// Used only when the selected model lacks native vision.
type OCRService interface {
	Extract(ctx context.Context, imageRef string) (string, error)
}

// ToolOutputMarker tags side-channel fragments that carry tool execution
// output. Fragments containing it are recorded into the turn's tool-results
// list.
const ToolOutputMarker = "<tool_call>"

// ToolDefinition describes one callable tool exposed by a tool server, in
// the function-calling schema backends expect.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolSession is an active connection to one or more tool servers.
type ToolSession interface {
	Connect(ctx context.Context, servers []string) error
	Tools() []ToolDefinition
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// ToolSessionFactory opens a fresh tool session per turn.
type ToolSessionFactory func() ToolSession
