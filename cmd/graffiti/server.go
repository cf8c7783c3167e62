package graffiti

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/spf13/cobra"

	graffiti "github.com/soundprediction/go-graffiti"
	"github.com/soundprediction/go-graffiti/pkg/cache"
	"github.com/soundprediction/go-graffiti/pkg/config"
	"github.com/soundprediction/go-graffiti/pkg/driver"
	"github.com/soundprediction/go-graffiti/pkg/embedder"
	"github.com/soundprediction/go-graffiti/pkg/llm"
	"github.com/soundprediction/go-graffiti/pkg/logger"
	"github.com/soundprediction/go-graffiti/pkg/server"
	"github.com/soundprediction/go-graffiti/pkg/telemetry"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Go-Graffiti HTTP server",
	Long: `Start the Go-Graffiti HTTP server to provide REST API access to the knowledge graph.

The server provides endpoints for:
- Entity and relationship lifecycle (create, update, soft/hard delete, restore)
- Reconciling episode content against the graph
- Semantic entity search
- Health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "debug", "Server mode (debug, release, test)")

	// Database flags
	serverCmd.Flags().String("db-driver", "neo4j", "Database driver (neo4j, memory)")
	serverCmd.Flags().String("db-uri", "bolt://localhost:7687", "Database URI")
	serverCmd.Flags().String("db-username", "neo4j", "Database username")
	serverCmd.Flags().String("db-password", "password", "Database password")
	serverCmd.Flags().String("db-database", "neo4j", "Database name")

	// LLM flags
	serverCmd.Flags().String("llm-model", "gpt-4o-mini", "LLM model")
	serverCmd.Flags().String("llm-api-key", "", "LLM API key")
	serverCmd.Flags().String("llm-base-url", "", "LLM base URL")

	// Embedding flags
	serverCmd.Flags().String("embedding-model", "text-embedding-3-small", "Embedding model")
	serverCmd.Flags().String("embedding-api-key", "", "Embedding API key")
	serverCmd.Flags().String("embedding-base-url", "", "Embedding base URL")
	serverCmd.Flags().String("embedding-cache", "", "BadgerDB directory for caching embeddings")

	// Telemetry flags
	serverCmd.Flags().String("errors-db", "", "DuckDB file for persisting error logs")

	// Graph flags
	serverCmd.Flags().String("group-id", "", "Default tenant for requests that carry none")
	serverCmd.Flags().String("strategy", "incremental", "Default reconciliation strategy (incremental, replace)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)
	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, closeLogger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() {
		if err := closeLogger(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
		}
	}()

	client, err := initializeGraffiti(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize graffiti: %w", err)
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			log.Warn("close failed", "error", err)
		}
	}()

	if err := client.CreateIndices(context.Background()); err != nil {
		return fmt.Errorf("failed to create indices: %w", err)
	}

	srv := server.New(cfg, client)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Info("server stopped")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	// Server flags
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}

	// Database flags
	if cmd.Flags().Changed("db-driver") {
		cfg.Database.Driver, _ = cmd.Flags().GetString("db-driver")
	}
	if cmd.Flags().Changed("db-uri") {
		cfg.Database.URI, _ = cmd.Flags().GetString("db-uri")
	}
	if cmd.Flags().Changed("db-username") {
		cfg.Database.Username, _ = cmd.Flags().GetString("db-username")
	}
	if cmd.Flags().Changed("db-password") {
		cfg.Database.Password, _ = cmd.Flags().GetString("db-password")
	}
	if cmd.Flags().Changed("db-database") {
		cfg.Database.Database, _ = cmd.Flags().GetString("db-database")
	}

	// LLM flags
	if cmd.Flags().Changed("llm-model") {
		cfg.LLM.Model, _ = cmd.Flags().GetString("llm-model")
	}
	if cmd.Flags().Changed("llm-api-key") {
		cfg.LLM.APIKey, _ = cmd.Flags().GetString("llm-api-key")
	}
	if cmd.Flags().Changed("llm-base-url") {
		cfg.LLM.BaseURL, _ = cmd.Flags().GetString("llm-base-url")
	}

	// Embedding flags
	if cmd.Flags().Changed("embedding-model") {
		cfg.Embedding.Model, _ = cmd.Flags().GetString("embedding-model")
	}
	if cmd.Flags().Changed("embedding-api-key") {
		cfg.Embedding.APIKey, _ = cmd.Flags().GetString("embedding-api-key")
	}
	if cmd.Flags().Changed("embedding-base-url") {
		cfg.Embedding.BaseURL, _ = cmd.Flags().GetString("embedding-base-url")
	}
	if cmd.Flags().Changed("embedding-cache") {
		cfg.Embedding.CachePath, _ = cmd.Flags().GetString("embedding-cache")
	}

	// Telemetry flags
	if cmd.Flags().Changed("errors-db") {
		cfg.Log.ErrorsDB, _ = cmd.Flags().GetString("errors-db")
	}

	// Graph flags
	if cmd.Flags().Changed("group-id") {
		cfg.Graph.GroupID, _ = cmd.Flags().GetString("group-id")
	}
	if cmd.Flags().Changed("strategy") {
		cfg.Graph.Strategy, _ = cmd.Flags().GetString("strategy")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Database.Driver == "neo4j" && cfg.Database.URI == "" {
		return fmt.Errorf("database URI is required")
	}
	switch cfg.Graph.Strategy {
	case "", "incremental", "replace":
	default:
		return fmt.Errorf("invalid strategy: %s", cfg.Graph.Strategy)
	}
	return nil
}

// initializeGraffiti wires the driver and the optional collaborators
// into a client. Missing API keys degrade features rather than fail:
// without an LLM key reconciliation is unavailable, without an
// embedding key entities carry no vectors.
func initializeGraffiti(cfg *config.Config, log *slog.Logger) (*graffiti.Client, error) {
	var graphDriver driver.GraphDriver
	switch cfg.Database.Driver {
	case "memory":
		graphDriver = driver.NewMemoryDriver()
	case "neo4j":
		neo4jDriver, err := driver.NewNeo4jDriver(
			cfg.Database.URI, cfg.Database.Username, cfg.Database.Password, cfg.Database.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		graphDriver = neo4jDriver
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}

	var llmClient llm.Client
	if cfg.LLM.APIKey != "" {
		temperature := cfg.LLM.Temperature
		maxTokens := cfg.LLM.MaxTokens
		llmClient = llm.NewOpenAIClient(cfg.LLM.APIKey, llm.Config{
			Model:       cfg.LLM.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			BaseURL:     cfg.LLM.BaseURL,
		})
	} else {
		log.Warn("no LLM API key configured, reconciliation is unavailable")
	}

	var embedderClient embedder.Client
	if cfg.Embedding.APIKey != "" {
		embedderClient = embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedder.Config{
			Model:   cfg.Embedding.Model,
			BaseURL: cfg.Embedding.BaseURL,
		}, log)
		if cfg.Embedding.CachePath != "" {
			embeddingCache, err := cache.NewBadgerCache(cfg.Embedding.CachePath)
			if err != nil {
				return nil, fmt.Errorf("failed to open embedding cache: %w", err)
			}
			embedderClient = embedder.NewCachedEmbedder(embedderClient, embeddingCache, 0)
		}
	} else {
		log.Warn("no embedding API key configured, entities will carry no vectors")
	}

	return graffiti.NewClient(graphDriver, llmClient, embedderClient, &graffiti.Config{
		GroupID:  cfg.Graph.GroupID,
		Strategy: types.UpdateStrategy(cfg.Graph.Strategy),
		Logger:   log,
	}), nil
}

// buildLogger assembles the slog handler chain: the colored stderr
// handler, optionally wrapped with a DuckDB sink for error-level logs.
// The returned close function drains and releases the sink.
func buildLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	handler := logger.NewColorHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})
	if cfg.Log.ErrorsDB == "" {
		return slog.New(handler), func() error { return nil }, nil
	}

	db, err := sql.Open("duckdb", cfg.Log.ErrorsDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open errors db: %w", err)
	}
	duckHandler, err := telemetry.NewDuckDBHandler(handler, db)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(duckHandler), duckHandler.Close, nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
