package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lakequery/lakequery/internal/api"
	"github.com/lakequery/lakequery/internal/auth"
	"github.com/lakequery/lakequery/internal/bootstrap"
	catalogpostgres "github.com/lakequery/lakequery/internal/catalog/postgres"
	"github.com/lakequery/lakequery/internal/config"
	"github.com/lakequery/lakequery/internal/janitor"
	"github.com/lakequery/lakequery/internal/observability"
	"github.com/lakequery/lakequery/internal/planner"
	duckdbengine "github.com/lakequery/lakequery/internal/query/duckdb"
)

func main() {
	cfg, err := config.LoadFromEnv("lakequery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	catalogDB, err := bootstrap.OpenCatalog(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to open catalog db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = catalogDB.Close() }()

	objectStore, err := bootstrap.OpenObjectStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	syntax, err := duckdbengine.NewSyntaxChecker(context.Background())
	if err != nil {
		logger.Error("failed to initialize sql syntax checker", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = syntax.Close() }()

	queryPlanner := planner.New(objectStore, cfg.Query.MaxRows, cfg.Query.DefaultTablePath)
	queryPlanner.Syntax = syntax

	jobs := catalogpostgres.NewRepository(catalogDB)
	janitorService := &janitor.Service{
		Catalog:     jobs,
		ObjectStore: objectStore,
		Config: janitor.Config{
			ResultTTL:      cfg.Janitor.ResultTTL,
			StaleUploadAge: cfg.Janitor.StaleUploadAge,
			BatchLimit:     cfg.Janitor.BatchLimit,
			ResultsBucket:  cfg.ObjectStore.ResultsBucket,
			ResultsPrefix:  cfg.ObjectStore.ResultsPrefix,
		},
		Logger: logger,
	}

	deps := api.Dependencies{
		Logger:    logger,
		Planner:   queryPlanner,
		Jobs:      jobs,
		Presigner: objectStore,
		Janitor:   janitorService,
		Readiness: api.CombineReadinessChecks(
			api.CheckCatalog(jobs.HealthCheck),
			api.CheckResultsBucket(cfg, objectStore),
		),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
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
