package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knoguchi/minirag/internal/auth"
	"github.com/knoguchi/minirag/internal/config"
	"github.com/knoguchi/minirag/internal/llm"
	"github.com/knoguchi/minirag/internal/prompt"
	"github.com/knoguchi/minirag/internal/provider"
	"github.com/knoguchi/minirag/internal/repository"
	"github.com/knoguchi/minirag/internal/repository/mongo"
	"github.com/knoguchi/minirag/internal/repository/postgres"
	"github.com/knoguchi/minirag/internal/server"
	"github.com/knoguchi/minirag/internal/service"
	"github.com/knoguchi/minirag/internal/telemetry"
	"github.com/knoguchi/minirag/internal/vectorstore"
)

const (
	serviceName     = "ragd"
	version         = "0.1.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting RAG service",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"chunk_store", cfg.ChunkStoreBackend,
		"vector_db", cfg.VectorDBBackend,
		"generation_backend", cfg.GenerationBackend,
		"embedding_backend", cfg.EmbeddingBackend,
	)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     version,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracer(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	// Chunk store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			slog.Warn("failed to close chunk store", "error", err)
		}
	}()
	slog.Info("connected to chunk store", "backend", cfg.ChunkStoreBackend)

	// Providers
	llms := provider.NewLLMRegistry()
	defer closeRegistry("llm", llms.Close)
	vectors := provider.NewVectorStoreRegistry()
	defer closeRegistry("vector store", vectors.Close)

	embedding, err := llms.Resolve(cfg.EmbeddingBackend, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding backend: %w", err)
	}
	generation, err := llms.Resolve(cfg.GenerationBackend, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize generation backend: %w", err)
	}
	vectorStore, err := vectors.Resolve(cfg.VectorDBBackend, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	slog.Info("providers ready",
		"embedding", embedding.Name(),
		"embedding_dimension", embedding.Dimension(),
		"generation", generation.Name(),
		"vector_store", vectorStore.Name(),
	)

	templates, err := prompt.Default(cfg.DefaultLang)
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}
	if templates.Resolve(cfg.PrimaryLang) != templates.Resolve(cfg.DefaultLang) {
		slog.Info("primary language differs from default", "primary", cfg.PrimaryLang, "default", cfg.DefaultLang)
	}

	// Initialize services
	nlpCfg, err := service.NLPConfigFrom(cfg)
	if err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	nlpSvc := service.NewNLPService(store.Projects, store.Chunks, embedding, generation, vectorStore, templates, nlpCfg)
	dataSvc := service.NewDataService(store.Projects, store.Assets, store.Chunks, cfg.AssetsDir, cfg.ChunkSize, cfg.ChunkOverlap)
	projectSvc := service.NewProjectService(store.Projects, store.Assets, store.Chunks)

	apiKey := auth.NewAPIKey(cfg.APIKey)
	if !apiKey.Enabled() {
		slog.Warn("API_KEY is not set, the API is unauthenticated")
	}

	// Create gRPC server
	grpcServer, err := server.NewGRPCServer(server.GRPCServerConfig{
		Port:   cfg.GRPCPort,
		Logger: slog.Default(),
		Auth:   apiKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	vectorStoreReady := func(ctx context.Context) error {
		_, err := vectorStore.CollectionExists(ctx, service.CollectionName("readyz"))
		return err
	}

	// Create HTTP server
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:            cfg.HTTPPort,
		Logger:          slog.Default(),
		AllowedOrigins:  cfg.CORSOrigins(),
		Auth:            apiKey,
		NLP:             nlpSvc,
		Data:            dataSvc,
		Projects:        projectSvc,
		DefaultTopK:     cfg.DefaultTopK,
		DefaultLanguage: cfg.DefaultLang,
		ReadinessChecks: map[string]func(context.Context) error{
			"chunk_store":  store.Ping,
			"vector_store": vectorStoreReady,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	// Start servers
	errCh := make(chan error, 2)

	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	grpcServer.SetServing(true)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	slog.Info("shutting down servers...")
	grpcServer.SetServing(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown gRPC server", "error", err)
	}

	slog.Info("servers stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	switch strings.ToLower(cfg.ChunkStoreBackend) {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		return store, nil
	case "mongo", "mongodb":
		store, err := mongo.Open(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown CHUNK_STORE_BACKEND %q (want postgres or mongo)", cfg.ChunkStoreBackend)
	}
}

func closeRegistry(family string, closeFn func() error) {
	if err := closeFn(); err != nil {
		slog.Warn("failed to close providers", "family", family, "error", err)
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.ProjectRepository = (*postgres.ProjectRepo)(nil)
	_ repository.AssetRepository   = (*postgres.AssetRepo)(nil)
	_ repository.ChunkRepository   = (*postgres.ChunkRepo)(nil)
	_ repository.ProjectRepository = (*mongo.ProjectRepo)(nil)
	_ repository.AssetRepository   = (*mongo.AssetRepo)(nil)
	_ repository.ChunkRepository   = (*mongo.ChunkRepo)(nil)
	_ vectorstore.VectorStore      = (*vectorstore.QdrantStore)(nil)
	_ vectorstore.VectorStore      = (*vectorstore.SQLiteStore)(nil)
	_ llm.LLM                      = (*llm.OllamaClient)(nil)
	_ llm.LLM                      = (*llm.OpenAIClient)(nil)
	_ llm.LLM                      = (*llm.GeminiClient)(nil)
	_ llm.LLM                      = (*llm.GuardedLLM)(nil)
	_ server.NLPService            = (*service.NLPService)(nil)
	_ server.DataService           = (*service.DataService)(nil)
	_ server.ProjectService        = (*service.ProjectService)(nil)
)
