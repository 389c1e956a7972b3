package chat

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"tidepool/internal/domain"
	chatModels "tidepool/internal/domain/models/chat"
)

// CreateConversationRequest carries the initial conversation configuration.
type CreateConversationRequest struct {
	Title            string
	Supplier         string
	Model            string
	Parameters       string
	AgentName        string
	SearchType       string
	RetrievalSources []string
}

// Validate checks the request shape.
func (r CreateConversationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Length(0, 200)),
		validation.Field(&r.Model, validation.Length(0, 200)),
	)
}

// CreateConversation persists a new conversation, falling back to the
// configured default model when none is named.
func (s *Service) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*chatModels.Conversation, error) {
	if err := req.Validate(); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}

	conv := &chatModels.Conversation{
		ID:               uuid.NewString(),
		Title:            req.Title,
		Supplier:         req.Supplier,
		Model:            req.Model,
		Parameters:       req.Parameters,
		AgentName:        req.AgentName,
		SearchType:       req.SearchType,
		RetrievalSources: req.RetrievalSources,
		CreatedAt:        time.Now(),
	}
	if conv.Title == "" {
		conv.Title = "New chat"
	}
	if conv.Model == "" {
		conv.Supplier = s.defaults.Supplier
		conv.Model = s.defaults.Model
		conv.Parameters = s.defaults.Parameters
	}

	if err := s.convs.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation loads one conversation record.
func (s *Service) GetConversation(ctx context.Context, id string) (*chatModels.Conversation, error) {
	return s.convs.Get(ctx, id)
}

// ListConversations returns every conversation, newest first.
func (s *Service) ListConversations(ctx context.Context) ([]chatModels.Conversation, error) {
	return s.convs.List(ctx)
}

// ListTurns returns a conversation's turns in creation order.
func (s *Service) ListTurns(ctx context.Context, conversationID string) ([]chatModels.Turn, error) {
	if _, err := s.convs.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.turns.List(ctx, conversationID)
}
