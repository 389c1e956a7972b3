// Package handler exposes the chat orchestrator over HTTP. The chat endpoint
// streams raw text fragments; everything else is plain JSON.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"tidepool/internal/domain"
	"tidepool/internal/handler/sse"
	"tidepool/internal/httputil"
	chatService "tidepool/internal/service/chat"
)

// ChatHandler handles chat HTTP requests.
// Handlers only communicate with services, never repositories.
type ChatHandler struct {
	svc       *chatService.Service
	sseConfig *sse.Config
	logger    *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(svc *chatService.Service, sseConfig *sse.Config, logger *slog.Logger) *ChatHandler {
	if sseConfig == nil {
		sseConfig = sse.DefaultConfig()
	}
	return &ChatHandler{svc: svc, sseConfig: sseConfig, logger: logger}
}

// Register wires the chat routes onto a mux.
func (h *ChatHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.CreateConversation)
	mux.HandleFunc("GET /api/conversations", h.ListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", h.GetConversation)
	mux.HandleFunc("GET /api/conversations/{id}/turns", h.ListTurns)
	mux.HandleFunc("POST /api/conversations/{id}/chat", h.Chat)
	mux.HandleFunc("POST /api/conversations/{id}/stop", h.Stop)
	mux.HandleFunc("POST /api/chat", h.TempChat)
	mux.HandleFunc("GET /api/models/usage", h.Usage)
}

type createConversationBody struct {
	Title            string   `json:"title"`
	Supplier         string   `json:"supplier"`
	Model            string   `json:"model"`
	Parameters       string   `json:"parameters"`
	AgentName        string   `json:"agent_name"`
	SearchType       string   `json:"search_type"`
	RetrievalSources []string `json:"retrieval_sources"`
}

// CreateConversation creates a new conversation
// POST /api/conversations
func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var body createConversationBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	conv, err := h.svc.CreateConversation(r.Context(), &chatService.CreateConversationRequest{
		Title:            body.Title,
		Supplier:         body.Supplier,
		Model:            body.Model,
		Parameters:       body.Parameters,
		AgentName:        body.AgentName,
		SearchType:       body.SearchType,
		RetrievalSources: body.RetrievalSources,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, conv)
}

// ListConversations retrieves all conversations
// GET /api/conversations
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.svc.ListConversations(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, convs)
}

// GetConversation retrieves a single conversation
// GET /api/conversations/{id}
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, conv)
}

// ListTurns retrieves a conversation's transcript
// GET /api/conversations/{id}/turns
func (h *ChatHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	turns, err := h.svc.ListTurns(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, turns)
}

type chatBody struct {
	Supplier         string   `json:"supplier"`
	Model            string   `json:"model"`
	Parameters       string   `json:"parameters"`
	Content          string   `json:"content"`
	Images           []string `json:"images"`
	DocFiles         []string `json:"doc_files"`
	Search           string   `json:"search"`
	RetrievalSources []string `json:"retrieval_sources"`
	RegenerateID     string   `json:"regenerate_id"`
	CompareID        *string  `json:"compare_id"`
	ToolServers      []string `json:"tool_servers"`
}

func (b *chatBody) toRequest(conversationID string, temp bool) *chatService.ChatRequest {
	return &chatService.ChatRequest{
		ConversationID:   conversationID,
		Supplier:         b.Supplier,
		Model:            b.Model,
		Parameters:       b.Parameters,
		Content:          b.Content,
		Images:           b.Images,
		DocFiles:         b.DocFiles,
		SearchType:       b.Search,
		RetrievalSources: b.RetrievalSources,
		RegenerateID:     b.RegenerateID,
		TempConversation: temp,
		CompareID:        b.CompareID,
		ToolServers:      b.ToolServers,
	}
}

// Chat runs one turn and streams the reply as raw text fragments
// POST /api/conversations/{id}/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.stream(w, r, body.toRequest(r.PathValue("id"), false))
}

// TempChat runs one turn against a temporary conversation: nothing is
// persisted and no conversation record is required
// POST /api/chat
func (h *ChatHandler) TempChat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.stream(w, r, body.toRequest("", true))
}

// stream drives one turn. Pre-stream failures are sent as a short localized
// string with an error status; once streaming starts the response is always
// terminated with the end-of-stream signal.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, req *chatService.ChatRequest) {
	writer, ok := sse.NewStreamWriter(w)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Hold the connection open while the backend loads the model. The
	// pings stop at the first real fragment so they never interleave with
	// visible text.
	keep := sse.NewTickerKeepAlive(h.sseConfig.KeepAliveInterval)
	keepDone := keep.Start(writer, h.logger)
	started := false
	sink := func(fragment string) error {
		if !started {
			started = true
			keep.Stop()
			<-keepDone
		}
		return writer.Write(fragment)
	}

	err := h.svc.Chat(r.Context(), req, sink)
	keep.Stop()

	if err != nil {
		if started {
			// Should not happen: Chat only errors before the first
			// fragment. Terminate the stream anyway.
			h.logger.Error("chat failed mid-stream", "error", err)
			_ = writer.WriteEnd()
			return
		}
		<-keepDone
		h.writeStreamError(w, writer, err)
		return
	}

	if err := writer.WriteEnd(); err != nil {
		h.logger.Warn("end-of-stream write failed", "error", err)
	}
}

// writeStreamError sends the localized pre-stream failure in place of a
// stream. Headers may already be out if a keep-alive ping was flushed, in
// which case the message goes down the open stream instead.
func (h *ChatHandler) writeStreamError(w http.ResponseWriter, writer *sse.StreamWriter, err error) {
	msg := h.svc.LocalizeError(err)

	var httpErr domain.HTTPError
	status := http.StatusInternalServerError
	if errors.As(err, &httpErr) {
		status = httpErr.StatusCode()
	}

	if !writer.Wrote() {
		w.WriteHeader(status)
	}
	if werr := writer.Write(msg); werr != nil {
		h.logger.Warn("error message write failed", "error", werr)
	}
	_ = writer.WriteEnd()
}

// Stop flips the cancellation flag for a conversation's in-flight turn
// POST /api/conversations/{id}/stop
func (h *ChatHandler) Stop(w http.ResponseWriter, r *http.Request) {
	stopped := h.svc.Stop(r.PathValue("id"))
	httputil.RespondJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// Usage reports per-model turn counters for this process
// GET /api/models/usage
func (h *ChatHandler) Usage(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, h.svc.Usage())
}
