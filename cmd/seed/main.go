// Seeds the database with demo conversations for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"tidepool/internal/config"
	chatModels "tidepool/internal/domain/models/chat"
	"tidepool/internal/repository/postgres"
	postgresChat "tidepool/internal/repository/postgres/chat"
)

func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed demo data")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("BLOCKED: cannot run --drop-tables in production environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		logger.Warn("dropping tables", "prefix", cfg.TablePrefix)
		if err := dropAll(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
	}

	if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	logger.Info("schema ready", "prefix", cfg.TablePrefix)

	if *schemaOnly {
		return
	}

	repoConfig := &postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger}
	txManager := postgres.NewTransactionManager(pool)
	convRepo := postgresChat.NewConversationRepository(repoConfig)
	turnRepo := postgresChat.NewTurnRepository(repoConfig, txManager)

	conv := &chatModels.Conversation{
		ID:         uuid.NewString(),
		Title:      "Demo: getting started",
		Supplier:   cfg.DefaultSupplier,
		Model:      cfg.DefaultModel,
		Parameters: cfg.DefaultParams,
	}
	if err := convRepo.Create(ctx, conv); err != nil {
		log.Fatalf("Failed to create demo conversation: %v", err)
	}

	exchanges := [][2]string{
		{"What can you do?", "I can answer questions, search the web when asked, and work with the documents you attach."},
		{"Summarize our options for deploying this service.", "Short version: a single binary behind a reverse proxy, a container on your orchestrator of choice, or a managed platform. The binary route is the least moving parts."},
	}
	for _, ex := range exchanges {
		user := &chatModels.Turn{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           "user",
			Content:        ex[0],
		}
		assistant := &chatModels.Turn{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           "assistant",
			Content:        ex[1],
			Stat: &chatModels.GenStats{
				Model:         conv.Model,
				TotalDuration: (2 * time.Second).Seconds(),
			},
		}
		if err := turnRepo.CreatePair(ctx, user, assistant); err != nil {
			log.Fatalf("Failed to seed turns: %v", err)
		}
		if err := turnRepo.UpdateAssistant(ctx, assistant); err != nil {
			log.Fatalf("Failed to fill assistant turn: %v", err)
		}
		// Keep the pairs ordered when listed by creation time.
		time.Sleep(5 * time.Millisecond)
	}

	logger.Info("demo data seeded", "conversation", conv.ID, "turns", len(exchanges)*2)
}

func dropAll(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	for _, table := range []string{tables.Turns, tables.Conversations} {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}
