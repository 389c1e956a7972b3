// Package chat holds the PostgreSQL implementations of the conversation and
// turn repositories.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"tidepool/internal/domain"
	chatModels "tidepool/internal/domain/models/chat"
	"tidepool/internal/domain/repositories"
	"tidepool/internal/repository/postgres"
)

// PostgresConversationRepository implements ConversationRepository using PostgreSQL
type PostgresConversationRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewConversationRepository creates a new PostgresConversationRepository
func NewConversationRepository(config *postgres.RepositoryConfig) repositories.ConversationRepository {
	return &PostgresConversationRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create persists a new conversation
func (r *PostgresConversationRepository) Create(ctx context.Context, conv *chatModels.Conversation) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, supplier, model, parameters, agent_name, search_type, retrieval_sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		conv.ID,
		conv.Title,
		conv.Supplier,
		conv.Model,
		conv.Parameters,
		conv.AgentName,
		conv.SearchType,
		sources(conv.RetrievalSources),
		conv.CreatedAt,
	).Scan(&conv.CreatedAt)

	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation by ID
func (r *PostgresConversationRepository) Get(ctx context.Context, id string) (*chatModels.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, title, supplier, model, parameters, agent_name, search_type, retrieval_sources, created_at
		FROM %s
		WHERE id = $1
	`, r.tables.Conversations)

	var conv chatModels.Conversation
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.Title,
		&conv.Supplier,
		&conv.Model,
		&conv.Parameters,
		&conv.AgentName,
		&conv.SearchType,
		&conv.RetrievalSources,
		&conv.CreatedAt,
	)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("conversation %s", id)}
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	return &conv, nil
}

// List retrieves all conversations, newest first
func (r *PostgresConversationRepository) List(ctx context.Context) ([]chatModels.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, title, supplier, model, parameters, agent_name, search_type, retrieval_sources, created_at
		FROM %s
		ORDER BY created_at DESC
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []chatModels.Conversation
	for rows.Next() {
		var conv chatModels.Conversation
		err := rows.Scan(
			&conv.ID,
			&conv.Title,
			&conv.Supplier,
			&conv.Model,
			&conv.Parameters,
			&conv.AgentName,
			&conv.SearchType,
			&conv.RetrievalSources,
			&conv.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	if convs == nil {
		convs = []chatModels.Conversation{}
	}
	return convs, nil
}

// UpdateModel writes the selected model back onto the conversation
func (r *PostgresConversationRepository) UpdateModel(ctx context.Context, id, supplier, model, parameters string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET supplier = $1, model = $2, parameters = $3
		WHERE id = $4
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, supplier, model, parameters, id)
	if err != nil {
		return fmt.Errorf("update conversation model: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &domain.NotFoundError{Message: fmt.Sprintf("conversation %s", id)}
	}
	return nil
}

// UpdateSearchType writes the last-used search type onto the conversation
func (r *PostgresConversationRepository) UpdateSearchType(ctx context.Context, id, searchType string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET search_type = $1
		WHERE id = $2
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, searchType, id)
	if err != nil {
		return fmt.Errorf("update conversation search type: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &domain.NotFoundError{Message: fmt.Sprintf("conversation %s", id)}
	}
	return nil
}

// UpdateRetrievalSources writes the selected retrieval sources onto the conversation
func (r *PostgresConversationRepository) UpdateRetrievalSources(ctx context.Context, id string, srcs []string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET retrieval_sources = $1
		WHERE id = $2
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, sources(srcs), id)
	if err != nil {
		return fmt.Errorf("update conversation retrieval sources: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &domain.NotFoundError{Message: fmt.Sprintf("conversation %s", id)}
	}
	return nil
}

// sources normalizes a nil slice to empty so the TEXT[] column never gets a
// SQL NULL.
func sources(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
