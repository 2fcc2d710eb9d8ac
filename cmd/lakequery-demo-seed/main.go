package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/lakequery/lakequery/internal/bootstrap"
	"github.com/lakequery/lakequery/internal/config"
	"github.com/lakequery/lakequery/internal/demo/seed"
	"github.com/lakequery/lakequery/internal/observability"
	"github.com/lakequery/lakequery/internal/upload"
)

func main() {
	cfg, err := config.LoadFromEnv("lakequery-demo-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	seedCfg, err := seed.LoadConfig(os.LookupEnv)
	if err != nil {
		logger.Error("invalid demo config", slog.Any("error", err))
		os.Exit(1)
	}

	// The demo bucket becomes the store's home bucket so it is auto-created.
	cfg.ObjectStore.ResultsBucket = seedCfg.Bucket
	objectStore, err := bootstrap.OpenObjectStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	seeder := &seed.Seeder{
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
		Config: seedCfg,
		Logger: logger,
	}
	summary, err := seeder.Run(context.Background())
	if err != nil {
		logger.Error("demo seed failed", slog.Any("error", err))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(summary)
}
