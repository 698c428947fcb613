package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Malowking/mcp-sentinel/internal/api"
	"github.com/Malowking/mcp-sentinel/internal/auth"
	"github.com/Malowking/mcp-sentinel/internal/catalog"
	"github.com/Malowking/mcp-sentinel/internal/config"
	"github.com/Malowking/mcp-sentinel/internal/history"
	"github.com/Malowking/mcp-sentinel/internal/model"
	"github.com/Malowking/mcp-sentinel/internal/orchestrator"
	"github.com/Malowking/mcp-sentinel/internal/router"
	"github.com/Malowking/mcp-sentinel/internal/rules"
	"github.com/Malowking/mcp-sentinel/internal/storage"
	"github.com/Malowking/mcp-sentinel/internal/store"
	"github.com/Malowking/mcp-sentinel/internal/vector"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", os.Getenv("SENTINEL_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := mustBuildLogger(cfg.Server.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting sentinel server",
		zap.String("http_port", cfg.Server.Port),
		zap.Int("max_services", cfg.Catalog.MaxServices),
		zap.String("auth_mode", cfg.Auth.Mode),
	)

	ctx := context.Background()

	// Postgres audit store (required)
	if cfg.Postgres.DSN == "" {
		logger.Fatal("postgres dsn is required")
	}
	db, err := store.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	pgStore := store.New(db, logger)
	logger.Info("postgres connected")

	// Decision event stream — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if cfg.ClickHouse.DSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.ClickHouse.DSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no clickhouse dsn set, using log writer")
	}
	defer writer.Close()

	// Model provider (required for draft generation)
	provider, err := model.NewOpenAIProvider(model.OpenAIConfig{
		APIKey:         cfg.OpenAI.APIKey,
		Model:          cfg.OpenAI.Model,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		RequestTimeout: cfg.OpenAITimeout(),
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("failed to create model provider", zap.Error(err))
	}

	// Service catalog with rehydration and health loop
	registry := catalog.NewRegistry(catalog.Config{
		MaxServices:      cfg.Catalog.MaxServices,
		FailureThreshold: cfg.Catalog.FailureThreshold,
		TimeoutDuration:  cfg.BreakerTimeout(),
	}, pgStore, logger)
	if services, err := pgStore.ListServices(ctx); err != nil {
		logger.Warn("service rehydration failed", zap.Error(err))
	} else {
		for _, svc := range services {
			if err := registry.Register(ctx, catalog.RegisterParams{
				Name:        svc.Name,
				URL:         svc.URL,
				Description: svc.Description,
				Tools:       svc.Tools,
				Layer:       svc.Layer,
				Domain:      svc.Domain,
			}); err != nil {
				logger.Warn("service rehydration skipped",
					zap.String("service", svc.Name),
					zap.Error(err),
				)
				continue
			}
			if !svc.Active {
				if err := registry.Deactivate(ctx, svc.Name); err != nil {
					logger.Warn("service rehydration deactivate failed",
						zap.String("service", svc.Name),
						zap.Error(err),
					)
				}
			}
		}
		logger.Info("service catalog rehydrated", zap.Int("services", len(services)))
	}
	health := catalog.NewHealthChecker(registry, cfg.HealthInterval(), logger)
	health.Start()
	defer health.Stop()

	// Rule engine with file-backed hot reload
	source := rules.FileSource{
		RulesPath:     cfg.Rules.RulesPath,
		BlacklistPath: cfg.Rules.BlacklistPath,
	}
	initialRules, blacklist, err := source.Load()
	if err != nil {
		logger.Fatal("failed to load rules", zap.Error(err))
	}
	engine := rules.NewEngine(initialRules, blacklist, source, logger)

	// Similarity index — optional; history retrieval degrades without it
	var retrieval orchestrator.Retrieval
	if cfg.Weaviate.Host != "" {
		index, err := vector.NewIndex(ctx, cfg.Weaviate.Host, cfg.Weaviate.Scheme, logger)
		if err != nil {
			logger.Warn("weaviate connection failed, history retrieval disabled",
				zap.Error(err),
			)
		} else {
			retrieval = history.NewRetriever(provider, index, pgStore, history.Config{
				TopK:                cfg.Retrieval.TopK,
				SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
			}, logger)
			logger.Info("weaviate index connected")
		}
	} else {
		logger.Info("no weaviate host set, history retrieval disabled")
	}

	toolRouter := router.New(registry, pgStore, logger)
	orch := orchestrator.New(toolRouter, provider, retrieval, engine, pgStore, writer, logger)

	// Authenticator
	var authenticator auth.Authenticator
	switch cfg.Auth.Mode {
	case "postgres":
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: cfg.AuthCacheTTL(),
			Logger:   logger,
		})
	default:
		clients := make(map[string]auth.ClientContext, len(cfg.Auth.StaticKeys))
		for _, k := range cfg.Auth.StaticKeys {
			clients[k.Key] = auth.ClientContext{ClientID: k.ClientID, Role: k.Role}
		}
		if len(clients) == 0 {
			logger.Warn("static auth configured with no keys, all requests will be rejected")
		}
		authenticator = auth.NewStaticAuthenticator(clients)
	}

	deps := &api.Dependencies{
		Gate:     orch,
		Registry: registry,
		Rules:    engine,
		History:  pgStore,
		Prefs:    pgStore,
		Auth:     authenticator,
		Logger:   logger,
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // streaming responses hold the connection
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("sentinel server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
