package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"tidepool/internal/agents"
	"tidepool/internal/capabilities"
	"tidepool/internal/config"
	chatSvc "tidepool/internal/domain/services/chat"
	"tidepool/internal/handler"
	"tidepool/internal/handler/sse"
	"tidepool/internal/i18n"
	"tidepool/internal/middleware"
	"tidepool/internal/repository/postgres"
	postgresChat "tidepool/internal/repository/postgres/chat"
	chatService "tidepool/internal/service/chat"
	"tidepool/internal/service/chat/providers"
	"tidepool/internal/service/chat/tools"
	"tidepool/internal/service/search"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, 10)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Localized stream messages
	catalog, err := i18n.NewCatalog(cfg.Language)
	if err != nil {
		log.Fatalf("Failed to load message catalog: %v", err)
	}

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	// Create table names and ensure the schema exists
	tables := postgres.NewTableNames(cfg.TablePrefix)
	if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// Create repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	txManager := postgres.NewTransactionManager(pool)
	convRepo := postgresChat.NewConversationRepository(repoConfig)
	turnRepo := postgresChat.NewTurnRepository(repoConfig, txManager)

	// Initialize capability registry
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}
	logger.Info("capability registry initialized")

	// Agent store
	agentStore, err := agents.NewStore()
	if err != nil {
		log.Fatalf("Failed to load agent store: %v", err)
	}

	// Web search is optional: without an API key the search injection is
	// skipped and turns run on conversation context alone.
	var webSearch chatSvc.WebSearchService
	if cfg.TavilyAPIKey != "" {
		webSearch = search.NewService(search.NewTavilyClient(cfg.TavilyAPIKey), logger)
		logger.Info("web search enabled")
	} else {
		logger.Warn("TAVILY_API_KEY not set, web search disabled")
	}

	// Backend adapters
	sessionFactory := tools.NewFactory(logger)
	directory := providers.NewDirectory(cfg, capabilityRegistry, sessionFactory, logger)

	// Turn orchestrator
	builder := chatService.NewContextBuilder(capabilityRegistry, nil, webSearch, agentStore, nil, logger)
	svc := chatService.NewService(
		convRepo,
		turnRepo,
		builder,
		directory,
		chatService.NewCancelRegistry(),
		chatService.NewUsageRecorder(),
		catalog,
		chatService.ModelDefaults{
			Supplier:   cfg.DefaultSupplier,
			Model:      cfg.DefaultModel,
			Parameters: cfg.DefaultParams,
		},
		logger,
	)

	chatHandler := handler.NewChatHandler(svc, sse.DefaultConfig(), logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	chatHandler.Register(mux)

	// Build middleware chain
	var root http.Handler = mux
	root = middleware.Recovery(logger)(root)

	// CORS - handles OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived response streams
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
