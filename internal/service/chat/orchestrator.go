// Package chat implements the chat turn orchestrator: context assembly,
// backend dispatch, stream reframing, cooperative cancellation and
// transcript persistence for one user turn.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"tidepool/internal/domain"
	chatModels "tidepool/internal/domain/models/chat"
	"tidepool/internal/domain/repositories"
	chatSvc "tidepool/internal/domain/services/chat"
	"tidepool/internal/i18n"
)

// ChatRequest is one inbound turn request.
type ChatRequest struct {
	ConversationID   string
	Supplier         string
	Model            string
	Parameters       string
	Content          string
	Images           []string
	DocFiles         []string
	SearchType       string
	RetrievalSources []string
	RegenerateID     string
	TempConversation bool
	CompareID        *string
	ToolServers      []string
}

// Validate checks the request shape before any side effect.
func (r ChatRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required),
		validation.Field(&r.ConversationID, validation.Required.When(!r.TempConversation)),
	)
}

// ProviderDirectory resolves the backend adapter for a turn. Tool selects
// the tool-augmented path, which never routes to the local backend.
type ProviderDirectory interface {
	Local() chatSvc.Provider
	Compat(supplier string) (chatSvc.Provider, error)
	Tool(supplier string) (chatSvc.Provider, error)
}

// ModelDefaults fills a request that names no model.
type ModelDefaults struct {
	Supplier   string
	Model      string
	Parameters string
}

// Service is the turn orchestrator: the public entry point that composes
// context building, adapter selection, reframing and persistence.
type Service struct {
	convs     repositories.ConversationRepository
	turns     repositories.TurnRepository
	builder   *ContextBuilder
	providers ProviderDirectory
	cancels   *CancelRegistry
	usage     *UsageRecorder
	reframer  *Reframer
	catalog   *i18n.Catalog
	defaults  ModelDefaults
	logger    *slog.Logger
}

// NewService wires the orchestrator.
func NewService(
	convs repositories.ConversationRepository,
	turns repositories.TurnRepository,
	builder *ContextBuilder,
	providers ProviderDirectory,
	cancels *CancelRegistry,
	usage *UsageRecorder,
	catalog *i18n.Catalog,
	defaults ModelDefaults,
	logger *slog.Logger,
) *Service {
	return &Service{
		convs:     convs,
		turns:     turns,
		builder:   builder,
		providers: providers,
		cancels:   cancels,
		usage:     usage,
		reframer:  NewReframer(cancels, catalog, logger),
		catalog:   catalog,
		defaults:  defaults,
		logger:    logger,
	}
}

// Chat runs one turn end to end, emitting raw stream fragments through the
// sink. A non-nil error means the stream never opened: the caller should
// send LocalizeError(err) in its place. Once the first fragment is emitted,
// Chat always terminates the stream cleanly and returns nil.
func (s *Service) Chat(ctx context.Context, req *ChatRequest, emit Sink) error {
	if err := req.Validate(); err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}

	sel := s.resolveSelector(req)
	s.usage.Record(sel.Key())

	var history []chatModels.Turn
	agentName := ""
	if !req.TempConversation {
		conv, err := s.convs.Get(ctx, req.ConversationID)
		if err != nil {
			return err
		}
		agentName = conv.AgentName
		s.syncConversation(ctx, conv, sel, req)

		if req.RegenerateID != "" {
			if err := s.turns.TruncateFrom(ctx, req.ConversationID, req.RegenerateID); err != nil {
				return err
			}
		}
		history, err = s.turns.List(ctx, req.ConversationID)
		if err != nil {
			return err
		}
	}

	now := time.Now()
	userTurn := &chatModels.Turn{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		CompareID:      req.CompareID,
		Role:           "user",
		Content:        req.Content,
		Images:         req.Images,
		DocFiles:       req.DocFiles,
		CreatedAt:      now,
	}
	assistant := &chatModels.Turn{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		CompareID:      req.CompareID,
		Role:           "assistant",
		CreatedAt:      now,
	}
	// Persist the pair before streaming so a client refresh mid-stream
	// still sees the placeholder.
	if !req.TempConversation {
		if err := s.turns.CreatePair(ctx, userTurn, assistant); err != nil {
			return err
		}
	}

	turnCtx := s.cancels.Begin(ctx, req.ConversationID)
	defer s.cancels.End(req.ConversationID)

	built := s.builder.Build(turnCtx, &BuildRequest{
		History:          history,
		UserContent:      req.Content,
		Images:           req.Images,
		DocFiles:         req.DocFiles,
		Selector:         sel,
		AgentName:        agentName,
		SearchType:       req.SearchType,
		RetrievalSources: req.RetrievalSources,
	})

	provider, err := s.selectProvider(sel, req.ToolServers)
	if err != nil {
		return err
	}

	var toolResults []string
	opts := &chatSvc.ChatOptions{
		ToolServers: req.ToolServers,
		SideChannel: func(fragment string) {
			if strings.Contains(fragment, chatSvc.ToolOutputMarker) {
				toolResults = append(toolResults, fragment)
			}
			if err := emit(fragment); err != nil {
				s.logger.Warn("side-channel write failed", "conversation_id", req.ConversationID, "error", err)
			}
		},
	}

	deltas, err := provider.Open(turnCtx, built.Messages, sel, opts)
	if err != nil {
		s.logger.Error("backend open failed",
			"conversation_id", req.ConversationID, "supplier", provider.Name(), "model", sel.Key(), "error", err)
		return err
	}

	outcome := s.reframer.Run(req.ConversationID, deltas, emit)

	if !req.TempConversation {
		assistant.Content = outcome.Content
		assistant.SplitReasoning()
		assistant.Stat = outcome.Stat
		assistant.SearchType = built.SearchType
		assistant.SearchQuery = built.SearchQuery
		assistant.SearchResults = built.SearchResults
		assistant.ToolResults = toolResults

		// Persistence must survive client disconnect and cancellation.
		persistCtx := context.WithoutCancel(ctx)
		if err := s.turns.UpdateAssistant(persistCtx, assistant); err != nil {
			s.logger.Error("assistant turn persistence failed",
				"conversation_id", req.ConversationID, "turn_id", assistant.ID, "error", err)
		}
	}

	s.logger.Info("turn completed",
		"conversation_id", req.ConversationID, "model", sel.Key(),
		"cancelled", outcome.Cancelled, "chars", len(outcome.Content))
	return nil
}

// Stop flips the cancellation flag for a conversation's in-flight turn. The
// streaming loop honors it at the next delta boundary.
func (s *Service) Stop(conversationID string) bool {
	return s.cancels.Stop(conversationID)
}

// Usage returns the per-model turn counters recorded this process.
func (s *Service) Usage() map[string]int {
	return s.usage.Snapshot()
}

// LocalizeError renders a pre-stream failure as the short localized string
// sent in place of a stream.
func (s *Service) LocalizeError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return s.catalog.T("chat.conversation_missing")
	case errors.Is(err, domain.ErrConnection):
		return s.catalog.T("chat.connect_error", err.Error())
	case errors.Is(err, domain.ErrProvider):
		return s.catalog.T("chat.provider_error", err.Error())
	default:
		return err.Error()
	}
}

func (s *Service) resolveSelector(req *ChatRequest) chatModels.ModelSelector {
	sel := chatModels.ModelSelector{
		Supplier:   req.Supplier,
		Model:      req.Model,
		Parameters: req.Parameters,
	}
	if sel.Model == "" {
		sel.Supplier = s.defaults.Supplier
		sel.Model = s.defaults.Model
		sel.Parameters = s.defaults.Parameters
	}
	return sel
}

// syncConversation writes request-level model and search choices back onto
// the conversation record. Failures are logged, never fatal to the turn.
func (s *Service) syncConversation(ctx context.Context, conv *chatModels.Conversation, sel chatModels.ModelSelector, req *ChatRequest) {
	if conv.Supplier != sel.Supplier || conv.Model != sel.Model || conv.Parameters != sel.Parameters {
		if err := s.convs.UpdateModel(ctx, conv.ID, sel.Supplier, sel.Model, sel.Parameters); err != nil {
			s.logger.Warn("conversation model update failed", "conversation_id", conv.ID, "error", err)
		}
	}
	if req.SearchType != conv.SearchType {
		if err := s.convs.UpdateSearchType(ctx, conv.ID, req.SearchType); err != nil {
			s.logger.Warn("conversation search type update failed", "conversation_id", conv.ID, "error", err)
		}
	}
	if req.RetrievalSources != nil {
		if err := s.convs.UpdateRetrievalSources(ctx, conv.ID, req.RetrievalSources); err != nil {
			s.logger.Warn("conversation retrieval sources update failed", "conversation_id", conv.ID, "error", err)
		}
	}
}

// selectProvider picks the adapter variant. Naming tool servers forces the
// tool-augmented path regardless of the nominal supplier.
func (s *Service) selectProvider(sel chatModels.ModelSelector, toolServers []string) (chatSvc.Provider, error) {
	switch {
	case len(toolServers) > 0:
		return s.providers.Tool(sel.Supplier)
	case sel.IsLocal():
		return s.providers.Local(), nil
	default:
		return s.providers.Compat(sel.Supplier)
	}
}
