package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"cadence/internal/config"
	llmRepo "cadence/internal/domain/repositories/llm"
	"cadence/internal/handler"
	"cadence/internal/handler/sse"
	"cadence/internal/middleware"
	"cadence/internal/repository/postgres"
	postgresLLM "cadence/internal/repository/postgres/llm"
	"cadence/internal/repository/sqlite"
	serviceLLM "cadence/internal/service/llm"
	"cadence/internal/service/llm/continuation"
	"cadence/internal/service/llm/providers/anthropic"
	"cadence/internal/service/llm/providers/lorem"
	"cadence/internal/service/llm/providers/openrouter"
	"cadence/internal/service/llm/session"
	"cadence/internal/service/llm/tools"
	"cadence/internal/service/llm/tools/external"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, closeLog := setupLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"database_driver", cfg.DatabaseDriver,
		"default_model", cfg.DefaultModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}

	continuationCfg, err := continuation.LoadConfig(cfg.ContinuationConfigPath)
	if err != nil {
		log.Fatalf("Failed to load continuation config: %v", err)
	}

	// Tools
	toolBuilder := tools.NewToolRegistryBuilder().
		WithConfig(toolConfig(cfg)).
		WithCurrentTime()
	if cfg.TavilyAPIKey != "" {
		toolBuilder = toolBuilder.WithWebSearch(external.NewTavilyClient(cfg.TavilyAPIKey))
	} else {
		logger.Warn("TAVILY_API_KEY not set, web_search tool disabled")
	}
	toolRegistry := toolBuilder.Build()

	// Model transports
	transports := serviceLLM.NewTransportRegistry()
	transports.Register(lorem.NewProvider())
	if cfg.AnthropicAPIKey != "" {
		provider, err := anthropic.NewProvider(cfg.AnthropicAPIKey, logger)
		if err != nil {
			log.Fatalf("Failed to create anthropic provider: %v", err)
		}
		transports.Register(provider)
	}
	if cfg.OpenRouterAPIKey != "" {
		adapter, err := openrouter.NewAdapter(cfg.OpenRouterAPIKey)
		if err != nil {
			log.Fatalf("Failed to create openrouter adapter: %v", err)
		}
		transports.Register(adapter)
	}
	if _, err := transports.Resolve(cfg.DefaultModel); err != nil {
		log.Fatalf("Default model %q is not served: %v", cfg.DefaultModel, err)
	}
	logger.Info("model transports registered",
		"providers", transports.Providers(),
		"tools", toolRegistry.Names(),
	)

	sseConfig := sse.DefaultConfig()
	streamRegistry := mstream.NewRegistry()
	sessionService := session.NewService(store, transports, toolRegistry, streamRegistry, session.Config{
		DefaultModel:     cfg.DefaultModel,
		MaxTokens:        cfg.MaxOutputTokens,
		Continuation:     continuationCfg,
		StreamBufferSize: sseConfig.BufferSize,
	}, logger)

	sessionHandler := handler.NewSessionHandler(sessionService, streamRegistry, sseConfig, logger)

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("POST /api/sessions", sessionHandler.CreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", sessionHandler.GetSession)
	mux.HandleFunc("GET /api/sessions/{id}/turns", sessionHandler.GetTurns)
	mux.HandleFunc("GET /api/sessions/{id}/stream", sessionHandler.StreamSession)
	mux.HandleFunc("POST /api/sessions/{id}/interrupt", sessionHandler.InterruptSession)

	// Order: CORS → Recovery → Routes
	var h http.Handler = mux
	h = middleware.Recovery(logger)(h)
	h = cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"},
	}).Handler(h)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      0, // Disabled to allow long-lived SSE streams
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := gracefulShutdown(shutdownCtx, server, sessionService, logger); err != nil {
		// Closing the store now could cut off a session's final write
		logger.Error("session shutdown incomplete, leaving store open", "error", err)
		return
	}
	closeStore()
}

func toolConfig(cfg *config.Config) *tools.ToolConfig {
	toolCfg := tools.DefaultToolConfig()
	toolCfg.DefaultTimezone = cfg.ToolTimezone
	return toolCfg
}

// setupLogger builds the JSON logger, teeing to a rotating file when LOG_DIR is set.
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogDir != "" {
		f, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	return logger, closeFn
}

// openStore selects the session store for the configured driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llmRepo.SessionStore, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		}
		if err := postgres.EnsureSchema(ctx, repoConfig); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database connected", "driver", "postgres", "table_prefix", cfg.TablePrefix)
		return postgresLLM.NewSessionStore(repoConfig), pool.Close, nil

	default:
		store, err := sqlite.NewSessionStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("database opened", "driver", "sqlite", "path", cfg.SQLitePath)
		return store, func() { store.Close() }, nil
	}
}
