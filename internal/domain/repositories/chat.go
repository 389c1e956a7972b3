package repositories

import (
	"context"

	"tidepool/internal/domain/models/chat"
)

// ConversationRepository is durable read/write of conversation records.
type ConversationRepository interface {
	Create(ctx context.Context, conv *chat.Conversation) error
	Get(ctx context.Context, id string) (*chat.Conversation, error)
	List(ctx context.Context) ([]chat.Conversation, error)
	UpdateModel(ctx context.Context, id, supplier, model, parameters string) error
	UpdateSearchType(ctx context.Context, id, searchType string) error
	UpdateRetrievalSources(ctx context.Context, id string, sources []string) error
}

// TurnRepository is durable read/write of turns. CreatePair persists a user
// turn and its assistant placeholder atomically, so a client refresh during
// streaming still sees both records.
type TurnRepository interface {
	CreatePair(ctx context.Context, user, assistant *chat.Turn) error
	UpdateAssistant(ctx context.Context, turn *chat.Turn) error
	List(ctx context.Context, conversationID string) ([]chat.Turn, error)
	TruncateFrom(ctx context.Context, conversationID, turnID string) error
}
