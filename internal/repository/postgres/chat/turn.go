package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"tidepool/internal/domain"
	chatModels "tidepool/internal/domain/models/chat"
	"tidepool/internal/domain/repositories"
	"tidepool/internal/repository/postgres"
)

// PostgresTurnRepository implements TurnRepository using PostgreSQL
type PostgresTurnRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	txm    repositories.TransactionManager
	logger *slog.Logger
}

// NewTurnRepository creates a new PostgresTurnRepository
func NewTurnRepository(config *postgres.RepositoryConfig, txm repositories.TransactionManager) repositories.TurnRepository {
	return &PostgresTurnRepository{
		pool:   config.Pool,
		tables: config.Tables,
		txm:    txm,
		logger: config.Logger,
	}
}

// CreatePair persists a user turn and its assistant placeholder in one
// transaction, so a client refresh during streaming sees both records.
func (r *PostgresTurnRepository) CreatePair(ctx context.Context, user, assistant *chatModels.Turn) error {
	return r.txm.ExecTx(ctx, func(txCtx context.Context) error {
		if err := r.insert(txCtx, user); err != nil {
			return err
		}
		return r.insert(txCtx, assistant)
	})
}

func (r *PostgresTurnRepository) insert(ctx context.Context, turn *chatModels.Turn) error {
	stat, err := marshalStat(turn.Stat)
	if err != nil {
		return err
	}
	results, err := marshalResults(turn.SearchResults)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, compare_id, role, content, reasoning,
			images, doc_files, stat, search_type, search_query, search_results, tool_results, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		turn.ID,
		turn.ConversationID,
		turn.CompareID,
		turn.Role,
		turn.Content,
		turn.Reasoning,
		sources(turn.Images),
		sources(turn.DocFiles),
		stat,
		turn.SearchType,
		turn.SearchQuery,
		results,
		sources(turn.ToolResults),
		turn.CreatedAt,
	)
	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return &domain.NotFoundError{Message: fmt.Sprintf("conversation %s", turn.ConversationID)}
		}
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// UpdateAssistant writes the accumulated transcript onto the placeholder.
func (r *PostgresTurnRepository) UpdateAssistant(ctx context.Context, turn *chatModels.Turn) error {
	stat, err := marshalStat(turn.Stat)
	if err != nil {
		return err
	}
	results, err := marshalResults(turn.SearchResults)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, reasoning = $2, stat = $3,
			search_type = $4, search_query = $5, search_results = $6, tool_results = $7
		WHERE id = $8 AND role = 'assistant'
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		turn.Content,
		turn.Reasoning,
		stat,
		turn.SearchType,
		turn.SearchQuery,
		results,
		sources(turn.ToolResults),
		turn.ID,
	)
	if err != nil {
		return fmt.Errorf("update assistant turn: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &domain.NotFoundError{Message: fmt.Sprintf("turn %s", turn.ID)}
	}
	return nil
}

// List retrieves a conversation's turns in creation order
func (r *PostgresTurnRepository) List(ctx context.Context, conversationID string) ([]chatModels.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, compare_id, role, content, reasoning,
			images, doc_files, stat, search_type, search_query, search_results, tool_results, created_at
		FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at, role DESC
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []chatModels.Turn
	for rows.Next() {
		var turn chatModels.Turn
		var stat, results []byte
		err := rows.Scan(
			&turn.ID,
			&turn.ConversationID,
			&turn.CompareID,
			&turn.Role,
			&turn.Content,
			&turn.Reasoning,
			&turn.Images,
			&turn.DocFiles,
			&stat,
			&turn.SearchType,
			&turn.SearchQuery,
			&results,
			&turn.ToolResults,
			&turn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if len(stat) > 0 {
			turn.Stat = &chatModels.GenStats{}
			if err := json.Unmarshal(stat, turn.Stat); err != nil {
				return nil, fmt.Errorf("decode turn stat: %w", err)
			}
		}
		if len(results) > 0 {
			if err := json.Unmarshal(results, &turn.SearchResults); err != nil {
				return nil, fmt.Errorf("decode turn search results: %w", err)
			}
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	if turns == nil {
		turns = []chatModels.Turn{}
	}
	return turns, nil
}

// TruncateFrom deletes a turn and everything after it in the conversation,
// clearing the way for a regenerate.
func (r *PostgresTurnRepository) TruncateFrom(ctx context.Context, conversationID, turnID string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE conversation_id = $1
		  AND created_at >= (SELECT created_at FROM %s WHERE id = $2 AND conversation_id = $1)
	`, r.tables.Turns, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, conversationID, turnID)
	if err != nil {
		return fmt.Errorf("truncate turns: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &domain.NotFoundError{Message: fmt.Sprintf("turn %s", turnID)}
	}
	return nil
}

func marshalStat(stat *chatModels.GenStats) ([]byte, error) {
	if stat == nil {
		return nil, nil
	}
	data, err := json.Marshal(stat)
	if err != nil {
		return nil, fmt.Errorf("encode turn stat: %w", err)
	}
	return data, nil
}

func marshalResults(results []chatModels.SearchResult) ([]byte, error) {
	if len(results) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode search results: %w", err)
	}
	return data, nil
}
