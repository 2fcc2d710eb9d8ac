package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("lakequery-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.ObjectStore.Backend != BackendMinio {
		t.Fatalf("ObjectStore.Backend = %q", cfg.ObjectStore.Backend)
	}
	if cfg.ObjectStore.MaxRetries != 10 {
		t.Fatalf("ObjectStore.MaxRetries = %d", cfg.ObjectStore.MaxRetries)
	}
	if cfg.Query.MaxRows != 1000 {
		t.Fatalf("Query.MaxRows = %d", cfg.Query.MaxRows)
	}
	if cfg.Upload.ChunkSize != 10_000_000 || cfg.Upload.ParallelThreshold != 300_000_000 {
		t.Fatalf("Upload = %+v", cfg.Upload)
	}
	if cfg.Upload.MaxWorkers != 10 || cfg.Upload.MaxChunks != 10_000 {
		t.Fatalf("Upload = %+v", cfg.Upload)
	}
	if cfg.Janitor.StaleUploadAge != 24*time.Hour {
		t.Fatalf("Janitor.StaleUploadAge = %s", cfg.Janitor.StaleUploadAge)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("lakequery-api", mapLookup(map[string]string{"LAKEQUERY_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"LAKEQUERY_PROFILE":                    "test",
		"LAKEQUERY_SERVICE_NAME":               "lakequery-custom",
		"LAKEQUERY_HTTP_ADDR":                  ":9999",
		"LAKEQUERY_HTTP_READ_TIMEOUT":          "2s",
		"LAKEQUERY_LOG_LEVEL":                  "error",
		"LAKEQUERY_AUTH_REQUIRED":              "true",
		"LAKEQUERY_AUTH_STATIC_KEYS":           "k1:t1:query_runner",
		"LAKEQUERY_CATALOG_DSN":                "postgres://example",
		"LAKEQUERY_CATALOG_MAX_OPEN_CONNS":     "42",
		"LAKEQUERY_OBJECTSTORE_BACKEND":        "AWS",
		"LAKEQUERY_OBJECTSTORE_REGION":         "eu-west-1",
		"LAKEQUERY_OBJECTSTORE_RESULTS_BUCKET": "query-results",
		"LAKEQUERY_OBJECTSTORE_RESULTS_PREFIX": "out/",
		"LAKEQUERY_OBJECTSTORE_MAX_RETRIES":    "3",
		"LAKEQUERY_OBJECTSTORE_PRESIGN_TTL":    "15m",
		"LAKEQUERY_QUERY_MAX_ROWS":             "500",
		"LAKEQUERY_QUERY_DEFAULT_TABLE_PATH":   "s3://lake/events/",
		"LAKEQUERY_UPLOAD_CHUNK_SIZE":          "1_048_576",
		"LAKEQUERY_UPLOAD_PARALLEL_THRESHOLD":  "4194304",
		"LAKEQUERY_UPLOAD_MAX_WORKERS":         "4",
		"LAKEQUERY_WORKER_CONSUMER_ID":         "worker-1",
		"LAKEQUERY_WORKER_LEASE_SECONDS":       "45",
		"LAKEQUERY_WORKER_POLL_INTERVAL":       "900ms",
		"LAKEQUERY_JANITOR_INTERVAL":           "11m",
		"LAKEQUERY_JANITOR_RESULT_TTL":         "48h",
		"LAKEQUERY_JANITOR_STALE_UPLOAD_AGE":   "2h",
	})
	cfg, err := Load("lakequery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "lakequery-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:t1:query_runner" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Catalog.DSN != "postgres://example" || cfg.Catalog.MaxOpenConns != 42 {
		t.Fatalf("Catalog = %+v", cfg.Catalog)
	}
	if cfg.ObjectStore.Backend != BackendAWS {
		t.Fatalf("ObjectStore.Backend = %q", cfg.ObjectStore.Backend)
	}
	if cfg.ObjectStore.ResultsBucket != "query-results" || cfg.ObjectStore.ResultsPrefix != "out/" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.ObjectStore.MaxRetries != 3 || cfg.ObjectStore.PresignTTL != 15*time.Minute {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.Query.MaxRows != 500 || cfg.Query.DefaultTablePath != "s3://lake/events/" {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.Upload.ChunkSize != 1_048_576 || cfg.Upload.ParallelThreshold != 4_194_304 || cfg.Upload.MaxWorkers != 4 {
		t.Fatalf("Upload = %+v", cfg.Upload)
	}
	if cfg.Worker.ConsumerID != "worker-1" || cfg.Worker.LeaseSeconds != 45 || cfg.Worker.PollInterval != 900*time.Millisecond {
		t.Fatalf("Worker = %+v", cfg.Worker)
	}
	if cfg.Janitor.Interval != 11*time.Minute || cfg.Janitor.ResultTTL != 48*time.Hour || cfg.Janitor.StaleUploadAge != 2*time.Hour {
		t.Fatalf("Janitor = %+v", cfg.Janitor)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"LAKEQUERY_PROFILE": "oops"},
		{"LAKEQUERY_HTTP_READ_TIMEOUT": "NaN"},
		{"LAKEQUERY_CATALOG_MAX_OPEN_CONNS": "oops"},
		{"LAKEQUERY_AUTH_REQUIRED": "not-bool"},
		{"LAKEQUERY_LOG_LEVEL": "verbose"},
		{"LAKEQUERY_OBJECTSTORE_BACKEND": "gcs"},
		{"LAKEQUERY_OBJECTSTORE_RESULTS_BUCKET": ""},
		{"LAKEQUERY_OBJECTSTORE_PRESIGN_TTL": "240h"},
		{"LAKEQUERY_OBJECTSTORE_MAX_RETRIES": "-1"},
		{"LAKEQUERY_QUERY_MAX_ROWS": "0"},
		{"LAKEQUERY_QUERY_DEFAULT_TABLE_PATH": "gs://bucket/x"},
		{"LAKEQUERY_UPLOAD_MAX_WORKERS": "0"},
		{"LAKEQUERY_UPLOAD_CHUNK_SIZE": "1048576"},
		{"LAKEQUERY_WORKER_LEASE_SECONDS": "0"},
		{"LAKEQUERY_JANITOR_RESULT_TTL": "0s"},
	}
	for _, env := range tests {
		_, err := Load("lakequery-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadAllowsSmallChunksInTestProfile(t *testing.T) {
	cfg, err := Load("lakequery-worker", mapLookup(map[string]string{
		"LAKEQUERY_PROFILE":           "test",
		"LAKEQUERY_UPLOAD_CHUNK_SIZE": "1024",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upload.ChunkSize != 1024 {
		t.Fatalf("Upload.ChunkSize = %d", cfg.Upload.ChunkSize)
	}
}

func TestLoadReportsEveryInvalidOverride(t *testing.T) {
	_, err := Load("lakequery-api", mapLookup(map[string]string{
		"LAKEQUERY_HTTP_READ_TIMEOUT":  "soon",
		"LAKEQUERY_UPLOAD_MAX_WORKERS": "many",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "LAKEQUERY_HTTP_READ_TIMEOUT") || !strings.Contains(err.Error(), "LAKEQUERY_UPLOAD_MAX_WORKERS") {
		t.Fatalf("error = %v", err)
	}
}

func TestLoadFromEnvReadsDotEnvFile(t *testing.T) {
	const key = "LAKEQUERY_QUERY_BATCH_SIZE"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set in environment", key)
	}
	envFile := filepath.Join(t.TempDir(), "lakequery.env")
	if err := os.WriteFile(envFile, []byte(key+"=77\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("LAKEQUERY_ENV_FILE", envFile)
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	cfg, err := LoadFromEnv("lakequery-api")
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Query.BatchSize != 77 {
		t.Fatalf("Query.BatchSize = %d", cfg.Query.BatchSize)
	}
}

func TestLoadFromEnvIgnoresMissingDotEnvFile(t *testing.T) {
	t.Setenv("LAKEQUERY_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	if _, err := LoadFromEnv("lakequery-api"); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
