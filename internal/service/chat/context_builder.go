package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tidepool/internal/capabilities"
	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
)

// RetrievalLabel is the search-type label persisted when document retrieval
// supplied the turn's context. It takes priority over any requested web
// search: when retrieval yields results, the search request is cleared and
// the web-search step never runs.
const RetrievalLabel = "retrieval"

// BuildRequest carries everything the builder needs for one turn.
type BuildRequest struct {
	History          []chatModels.Turn
	UserContent      string
	Images           []string
	DocFiles         []string
	Selector         chatModels.ModelSelector
	AgentName        string
	SearchType       string
	RetrievalSources []string
}

// BuildResult is the assembled context plus the provenance to persist on the
// assistant turn.
type BuildResult struct {
	Messages      []chatModels.Message
	SearchType    string
	SearchQuery   string
	SearchResults []chatModels.SearchResult
}

// ContextBuilder assembles the ordered message list for one turn: system
// prompt, alternating history, retrieval or web-search injection, document
// blocks and image handling. It performs no network I/O of its own beyond
// the injected collaborators, and every injection failure degrades to
// skipping that injection.
type ContextBuilder struct {
	caps      *capabilities.Registry
	retrieval chatSvc.RetrievalService
	websearch chatSvc.WebSearchService
	agents    chatSvc.AgentStore
	ocr       chatSvc.OCRService
	logger    *slog.Logger
}

// NewContextBuilder wires the builder's collaborators. Any of retrieval,
// websearch, agents and ocr may be nil, which disables that injection.
func NewContextBuilder(caps *capabilities.Registry, retrieval chatSvc.RetrievalService, websearch chatSvc.WebSearchService, agents chatSvc.AgentStore, ocr chatSvc.OCRService, logger *slog.Logger) *ContextBuilder {
	return &ContextBuilder{
		caps:      caps,
		retrieval: retrieval,
		websearch: websearch,
		agents:    agents,
		ocr:       ocr,
		logger:    logger,
	}
}

// Build produces the backend-ready message list. It never fails: a broken
// injection is logged and skipped, and the turn proceeds with whatever
// context succeeded.
func (b *ContextBuilder) Build(ctx context.Context, req *BuildRequest) *BuildResult {
	res := &BuildResult{}

	systemPrompt := b.agentPrompt(req.AgentName)
	userContent := req.UserContent
	searchType := req.SearchType

	if len(req.RetrievalSources) > 0 && b.retrieval != nil {
		bundle, err := b.retrieval.Search(ctx, req.UserContent, req.Selector, req.DocFiles, req.AgentName, nil, req.RetrievalSources)
		switch {
		case err != nil:
			b.logger.Warn("retrieval failed, skipping injection", "error", err)
		case len(bundle.Results) > 0:
			if bundle.SystemPrompt != "" {
				systemPrompt = bundle.SystemPrompt
			}
			userContent = bundle.UserPrompt
			res.SearchType = RetrievalLabel
			res.SearchQuery = bundle.ResolvedQuery
			res.SearchResults = bundle.Results
			// Retrieval wins: clear the search request before the
			// web-search step is even considered.
			searchType = ""
		}
	}

	if searchType != "" && b.websearch != nil {
		bundle, err := b.websearch.Search(ctx, req.UserContent, req.Selector, shortHistory(req.History), req.DocFiles, req.AgentName, nil, searchType)
		switch {
		case err != nil:
			b.logger.Warn("web search failed, skipping injection", "error", err)
		case len(bundle.Results) > 0:
			if bundle.SystemPrompt != "" {
				systemPrompt = bundle.SystemPrompt
			}
			userContent = bundle.UserPrompt
			res.SearchType = searchType
			res.SearchQuery = bundle.ResolvedQuery
			res.SearchResults = bundle.Results
		}
	}

	messages := interleave(systemPrompt, req.History)
	messages = append(messages, b.buildUserMessage(ctx, req, userContent))
	res.Messages = messages
	return res
}

func (b *ContextBuilder) agentPrompt(name string) string {
	if name == "" || b.agents == nil {
		return ""
	}
	agent, err := b.agents.Get(name)
	if err != nil {
		b.logger.Warn("agent config unavailable, skipping system prompt", "agent", name, "error", err)
		return ""
	}
	return agent.Prompt
}

// interleave collapses stored history into strict role alternation: one
// leading system message, then user/assistant pairs by position. When one
// side runs out, the other keeps contributing in order.
func interleave(systemPrompt string, history []chatModels.Turn) []chatModels.Message {
	var users, assistants []string
	for _, t := range history {
		switch t.Role {
		case "user":
			users = append(users, t.Content)
		case "assistant":
			assistants = append(assistants, t.Content)
		}
	}

	var messages []chatModels.Message
	if systemPrompt != "" {
		messages = append(messages, chatModels.Message{Role: "system", Content: systemPrompt})
	}
	for i := 0; i < len(users) || i < len(assistants); i++ {
		if i < len(users) {
			messages = append(messages, chatModels.Message{Role: "user", Content: users[i]})
		}
		if i < len(assistants) {
			messages = append(messages, chatModels.Message{Role: "assistant", Content: assistants[i]})
		}
	}
	return messages
}

// buildUserMessage folds document text and image handling into the final
// user entry. Document and OCR text land in Content; native image data is
// attached only for vision-capable models, never duplicated as OCR text.
func (b *ContextBuilder) buildUserMessage(ctx context.Context, req *BuildRequest, content string) chatModels.Message {
	if len(req.DocFiles) > 0 {
		if b.caps.InlineDocs(req.Selector.Model) {
			content = content + "\n" + strings.Join(req.DocFiles, "\n")
		} else {
			var sb strings.Builder
			sb.WriteString(content)
			for i, doc := range req.DocFiles {
				fmt.Fprintf(&sb, "\n\ndocument %d begin\n%s\ndocument %d end", i+1, doc, i+1)
			}
			content = sb.String()
		}
	}

	msg := chatModels.Message{Role: "user", Content: content}
	if len(req.Images) == 0 {
		return msg
	}

	if b.caps.IsVision(req.Selector.Supplier, req.Selector.Model) {
		if req.Selector.IsLocal() {
			for _, img := range req.Images {
				msg.Images = append(msg.Images, stripDataURL(img))
			}
		} else {
			msg.Parts = append(msg.Parts, chatModels.ContentPart{Type: "text", Text: content})
			for _, img := range req.Images {
				img := img
				msg.Parts = append(msg.Parts, chatModels.ContentPart{Type: "image_url", ImageURL: &chatModels.ImageURL{URL: img}})
			}
		}
		return msg
	}

	if b.ocr == nil {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg.Content)
	for i, img := range req.Images {
		text, err := b.ocr.Extract(ctx, img)
		if err != nil {
			b.logger.Warn("image OCR failed, skipping image", "index", i, "error", err)
			continue
		}
		fmt.Fprintf(&sb, "\n\nimage %d OCR result begin\n%s\nimage %d OCR result end", i+1, text, i+1)
	}
	msg.Content = sb.String()
	return msg
}

// shortHistory renders the prior question/answer pair for web-search query
// reformulation.
func shortHistory(history []chatModels.Turn) string {
	var question, answer string
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role == "assistant" && answer == "" {
			answer = t.Content
		}
		if t.Role == "user" && question == "" {
			question = t.Content
		}
		if question != "" && answer != "" {
			break
		}
	}
	if question == "" && answer == "" {
		return ""
	}
	return fmt.Sprintf("question: %s\nanswer: %s", question, answer)
}

// stripDataURL removes a data-URL prefix, leaving the bare base64 payload
// the local backend expects.
func stripDataURL(img string) string {
	if !strings.HasPrefix(img, "data:") {
		return img
	}
	if idx := strings.Index(img, ","); idx != -1 {
		return img[idx+1:]
	}
	return img
}
