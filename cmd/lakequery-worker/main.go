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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lakequery/lakequery/internal/bootstrap"
	buspostgres "github.com/lakequery/lakequery/internal/bus/postgres"
	catalogpostgres "github.com/lakequery/lakequery/internal/catalog/postgres"
	"github.com/lakequery/lakequery/internal/config"
	"github.com/lakequery/lakequery/internal/observability"
	duckdbengine "github.com/lakequery/lakequery/internal/query/duckdb"
	"github.com/lakequery/lakequery/internal/upload"
	"github.com/lakequery/lakequery/internal/worker"
)

func main() {
	cfg, err := config.LoadFromEnv("lakequery-worker")
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

	service := &worker.Service{
		Queue:    buspostgres.NewJobQueue(catalogDB),
		Executor: duckdbengine.NewEngine(objectStore, cfg.Worker.ScratchDir),
		Uploads: &upload.Engine{
			Uploader: objectStore,
			Config: upload.Config{
				ChunkSize:         cfg.Upload.ChunkSize,
				ParallelThreshold: cfg.Upload.ParallelThreshold,
				MaxWorkers:        cfg.Upload.MaxWorkers,
				MaxChunks:         cfg.Upload.MaxChunks,
			},
			Logger: logger,
		},
		Jobs: catalogpostgres.NewRepository(catalogDB),
		Config: worker.Config{
			ConsumerID:   cfg.Worker.ConsumerID,
			ClaimLimit:   cfg.Worker.ClaimLimit,
			LeaseSeconds: cfg.Worker.LeaseSeconds,
			PollInterval: cfg.Worker.PollInterval,
			BatchSize:    cfg.Query.BatchSize,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.String("consumer_id", cfg.Worker.ConsumerID), slog.String("metrics_addr", cfg.HTTP.Address))
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
