// Package seed writes generated click-stream tables to object storage so a
// local stack has parquet data to query.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lakequery/lakequery/internal/materialize"
	"github.com/lakequery/lakequery/internal/query"
	"github.com/lakequery/lakequery/internal/upload"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Bucket          string
	Prefix          string
	Files           int
	RowsPerFile     int
	UserCardinality int
	Seed            int64
}

func DefaultConfig() Config {
	return Config{
		Bucket:          "lakequery-demo",
		Prefix:          "events",
		Files:           4,
		RowsPerFile:     5000,
		UserCardinality: 200,
		Seed:            time.Now().UTC().UnixNano(),
	}
}

func LoadConfig(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, errors.New("lookup function is required")
	}
	cfg := DefaultConfig()
	if raw, ok := lookup("LAKEQUERY_DEMO_BUCKET"); ok {
		cfg.Bucket = strings.TrimSpace(raw)
	}
	if raw, ok := lookup("LAKEQUERY_DEMO_PREFIX"); ok {
		cfg.Prefix = strings.Trim(strings.TrimSpace(raw), "/")
	}
	for key, dst := range map[string]*int{
		"LAKEQUERY_DEMO_FILES":            &cfg.Files,
		"LAKEQUERY_DEMO_ROWS_PER_FILE":    &cfg.RowsPerFile,
		"LAKEQUERY_DEMO_USER_CARDINALITY": &cfg.UserCardinality,
	} {
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = value
	}
	if raw, ok := lookup("LAKEQUERY_DEMO_SEED"); ok {
		value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LAKEQUERY_DEMO_SEED: %w", err)
		}
		cfg.Seed = value
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("LAKEQUERY_DEMO_BUCKET is required")
	}
	if c.Prefix == "" {
		return errors.New("LAKEQUERY_DEMO_PREFIX is required")
	}
	if c.Files <= 0 || c.RowsPerFile <= 0 {
		return errors.New("LAKEQUERY_DEMO_FILES and LAKEQUERY_DEMO_ROWS_PER_FILE must be > 0")
	}
	if c.UserCardinality <= 0 {
		return errors.New("LAKEQUERY_DEMO_USER_CARDINALITY must be > 0")
	}
	return nil
}

type Summary struct {
	TablePath string `json:"table_path"`
	Files     int    `json:"files"`
	Rows      int64  `json:"rows"`
	Bytes     int64  `json:"bytes"`
}

type Seeder struct {
	Uploads *upload.Engine
	Config  Config
	Logger  *slog.Logger
}

// Run writes Config.Files parquet objects named part-00000.parquet onwards
// under Config.Prefix.
func (s *Seeder) Run(ctx context.Context) (Summary, error) {
	if s.Uploads == nil {
		return Summary{}, errors.New("upload engine is required")
	}
	if err := s.Config.Validate(); err != nil {
		return Summary{}, err
	}

	generator := NewGenerator(s.Config.Seed, s.Config.UserCardinality)
	summary := Summary{TablePath: fmt.Sprintf("s3://%s/%s", s.Config.Bucket, s.Config.Prefix)}
	for i := 0; i < s.Config.Files; i++ {
		out, err := materialize.Drain(ctx, query.NewMemoryStream(Columns, generator.NextBatch(s.Config.RowsPerFile)))
		if err != nil {
			return summary, fmt.Errorf("encode part %d: %w", i, err)
		}

		key := fmt.Sprintf("%s/part-%05d.parquet", s.Config.Prefix, i)
		if _, err := s.Uploads.Upload(ctx, upload.Job{
			Bucket:      s.Config.Bucket,
			Key:         key,
			ContentType: materialize.ContentTypeParquet,
			Buffer:      out.Parquet,
		}); err != nil {
			return summary, fmt.Errorf("upload %s: %w", key, err)
		}

		summary.Files++
		summary.Rows += out.Rows
		summary.Bytes += int64(len(out.Parquet))
		if s.Logger != nil {
			s.Logger.InfoContext(ctx, "demo part written", slog.String("key", key), slog.Int64("rows", out.Rows))
		}
	}
	return summary, nil
}
