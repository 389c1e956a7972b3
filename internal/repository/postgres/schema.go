package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the chat tables when they do not exist yet. Idempotent
// and safe to run at every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				title TEXT NOT NULL,
				supplier TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				parameters TEXT NOT NULL DEFAULT '',
				agent_name TEXT NOT NULL DEFAULT '',
				search_type TEXT NOT NULL DEFAULT '',
				retrieval_sources TEXT[] NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, tables.Conversations),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				conversation_id UUID NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
				compare_id UUID,
				role TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				reasoning TEXT NOT NULL DEFAULT '',
				images TEXT[] NOT NULL DEFAULT '{}',
				doc_files TEXT[] NOT NULL DEFAULT '{}',
				stat JSONB,
				search_type TEXT NOT NULL DEFAULT '',
				search_query TEXT NOT NULL DEFAULT '',
				search_results JSONB,
				tool_results TEXT[] NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, tables.Turns, tables.Conversations),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_conversation_created_idx
			ON %s (conversation_id, created_at)
		`, tables.Turns, tables.Turns),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
