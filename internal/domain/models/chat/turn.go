package chat

import (
	"strings"
	"time"
)

// ReasoningClose is the marker that separates a reasoning segment from the
// final answer text. Content saved at rest never contains an opening marker
// without this closing one.
const (
	ReasoningOpen  = "\n<think>\n"
	ReasoningClose = "\n</think>\n"
)

// GenStats holds the per-backend generation statistics recorded on an
// assistant turn. Durations are normalized before storage: total_duration
// and eval_duration are seconds, load_duration and prompt_eval_duration are
// milliseconds, regardless of which provider produced them.
type GenStats struct {
	Model              string  `json:"model"`
	CreatedAt          string  `json:"created_at"`
	TotalDuration      float64 `json:"total_duration"`
	LoadDuration       float64 `json:"load_duration"`
	PromptEvalCount    int     `json:"prompt_eval_count"`
	PromptEvalDuration float64 `json:"prompt_eval_duration"`
	EvalCount          int     `json:"eval_count"`
	EvalDuration       float64 `json:"eval_duration"`
}

// SearchResult is one ranked result from retrieval or web search, persisted
// as provenance on the turn that used it.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link,omitempty"`
	Content string `json:"content"`
}

// Turn is one persisted message: a user message or its generated assistant
// reply. Assistant turns are created as empty placeholders before streaming
// starts and updated with the accumulated content when the stream ends.
type Turn struct {
	ID             string         `json:"id" db:"id"`
	ConversationID string         `json:"conversation_id" db:"conversation_id"`
	CompareID      *string        `json:"compare_id,omitempty" db:"compare_id"`
	Role           string         `json:"role" db:"role"` // "user" or "assistant"
	Content        string         `json:"content" db:"content"`
	Reasoning      string         `json:"reasoning,omitempty" db:"reasoning"`
	Images         []string       `json:"images,omitempty" db:"images"`
	DocFiles       []string       `json:"doc_files,omitempty" db:"doc_files"`
	Stat           *GenStats      `json:"stat,omitempty" db:"stat"`
	SearchType     string         `json:"search_type,omitempty" db:"search_type"`
	SearchQuery    string         `json:"search_query,omitempty" db:"search_query"`
	SearchResults  []SearchResult `json:"search_results,omitempty" db:"search_results"`
	ToolResults    []string       `json:"tool_results,omitempty" db:"tool_results"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// SplitReasoning moves a leading reasoning segment out of Content into
// Reasoning, splitting on the closing marker. Turns whose content carries no
// closed reasoning segment are left untouched.
func (t *Turn) SplitReasoning() {
	idx := strings.Index(t.Content, ReasoningClose)
	if idx == -1 {
		return
	}
	t.Reasoning = t.Content[:idx] + ReasoningClose
	t.Content = t.Content[idx+len(ReasoningClose):]
}

// Conversation is the per-conversation configuration the orchestrator reads
// and writes: the selected model, the optional system agent and the retrieval
// sources chosen for this conversation.
type Conversation struct {
	ID               string    `json:"id" db:"id"`
	Title            string    `json:"title" db:"title"`
	Supplier         string    `json:"supplier" db:"supplier"`
	Model            string    `json:"model" db:"model"`
	Parameters       string    `json:"parameters" db:"parameters"`
	AgentName        string    `json:"agent_name,omitempty" db:"agent_name"`
	SearchType       string    `json:"search_type,omitempty" db:"search_type"`
	RetrievalSources []string  `json:"retrieval_sources,omitempty" db:"retrieval_sources"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
