package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asksql/asksql/internal/api"
	"github.com/asksql/asksql/internal/archive"
	"github.com/asksql/asksql/internal/auth"
	"github.com/asksql/asksql/internal/config"
	"github.com/asksql/asksql/internal/database"
	"github.com/asksql/asksql/internal/llm"
	"github.com/asksql/asksql/internal/nl2sql"
	"github.com/asksql/asksql/internal/observability"
	"github.com/asksql/asksql/internal/prompt"
	"github.com/asksql/asksql/internal/query/sqldb"
	"github.com/asksql/asksql/internal/schema"
	"github.com/asksql/asksql/internal/session"
	s3store "github.com/asksql/asksql/internal/storage/s3"
	"github.com/asksql/asksql/internal/web"
)

func main() {
	cfg, err := config.LoadFromEnv("asksql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := database.Open(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	descriptor, err := schema.Load(loadCtx, db, schema.LoadOptions{
		Schema:     cfg.Database.Schema,
		SampleRows: cfg.Pipeline.SampleRows,
	})
	cancelLoad()
	if err != nil {
		logger.Error("failed to load database schema", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("loaded database schema", slog.Int("tables", len(descriptor.Tables())))

	prompts, err := prompt.Default()
	if err != nil {
		logger.Error("failed to load prompts", slog.Any("error", err))
		os.Exit(1)
	}
	provider, err := newProvider(cfg.LLM)
	if err != nil {
		logger.Error("failed to initialize llm provider", slog.Any("error", err))
		os.Exit(1)
	}
	llmClient, err := llm.NewClient(provider, prompts, llm.Options{
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialize llm client", slog.Any("error", err))
		os.Exit(1)
	}

	readiness := []api.ReadinessCheck{api.CheckDatabase(db), api.CheckArchiveConfig(cfg)}
	var archiver nl2sql.Archiver
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(cfg.Archive)
		if err != nil {
			logger.Error("failed to initialize archive store", slog.Any("error", err))
			os.Exit(1)
		}
		runArchiver, err := archive.New(objectStore, archive.Options{
			Provider: llmClient.Provider(),
			Model:    llmClient.Model(),
		})
		if err != nil {
			logger.Error("failed to initialize run archive", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = runArchiver
		readiness = append(readiness, objectStore.Ping)
	}

	pipeline, err := nl2sql.New(nl2sql.Dependencies{
		LLM:      llmClient,
		Prompts:  prompts,
		Schema:   descriptor,
		Executor: sqldb.New(db, sqldb.Options{ReadOnlyTx: database.SupportsReadOnlyTx(cfg.Database.Driver)}),
		Archiver: archiver,
		Logger:   logger,
		Options: nl2sql.Options{
			RepairEnabled: cfg.Pipeline.RepairEnabled,
			MaxRows:       cfg.Pipeline.MaxRows,
		},
	})
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	sessions, err := session.NewStore(cfg.Session)
	if err != nil {
		logger.Error("failed to initialize session store", slog.Any("error", err))
		os.Exit(1)
	}
	pages, err := web.LoadPages()
	if err != nil {
		logger.Error("failed to load page templates", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Pipeline:          pipeline,
		Credentials:       llmClient,
		Schema:            descriptor,
		Sessions:          sessions,
		Resolver:          auth.NewResolver(sessions, cfg.LLM.APIKey),
		Pages:             pages,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("llm_provider", llmClient.Provider()),
			slog.String("llm_model", llmClient.Model()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return llm.NewGeminiProvider(llm.GeminiConfig{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case config.ProviderOpenAI:
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
