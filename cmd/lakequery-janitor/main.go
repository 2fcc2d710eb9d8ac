package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lakequery/lakequery/internal/bootstrap"
	catalogpostgres "github.com/lakequery/lakequery/internal/catalog/postgres"
	"github.com/lakequery/lakequery/internal/config"
	"github.com/lakequery/lakequery/internal/janitor"
	"github.com/lakequery/lakequery/internal/observability"
)

func main() {
	once := flag.Bool("once", false, "run a single cleanup cycle, print its summary and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv("lakequery-janitor")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stderr)
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

	service := &janitor.Service{
		Catalog:     catalogpostgres.NewRepository(catalogDB),
		ObjectStore: objectStore,
		Config: janitor.Config{
			Interval:       cfg.Janitor.Interval,
			ResultTTL:      cfg.Janitor.ResultTTL,
			StaleUploadAge: cfg.Janitor.StaleUploadAge,
			BatchLimit:     cfg.Janitor.BatchLimit,
			ResultsBucket:  cfg.ObjectStore.ResultsBucket,
			ResultsPrefix:  cfg.ObjectStore.ResultsPrefix,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		summary, err := service.RunOnce(ctx)
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(summary)
		if err != nil {
			logger.Error("janitor run failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	logger.Info("starting janitor", slog.Duration("interval", cfg.Janitor.Interval))
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("janitor stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("janitor stopped")
}
