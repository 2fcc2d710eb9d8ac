package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lakequery/lakequery/internal/cli/lakequeryctl"
)

func main() {
	options := lakequeryctl.Options{
		BaseURL:      envOr("LAKEQUERY_API_URL", "http://localhost:8080"),
		APIKey:       strings.TrimSpace(os.Getenv("LAKEQUERY_API_KEY")),
		TenantID:     strings.TrimSpace(os.Getenv("LAKEQUERY_TENANT_ID")),
		Timeout:      parseDurationWithDefault("LAKEQUERY_CLI_TIMEOUT", 10*time.Second),
		PollInterval: parseDurationWithDefault("LAKEQUERY_CLI_POLL_INTERVAL", 2*time.Second),
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := lakequeryctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid %s %q; using %s\n", key, raw, fallback)
		return fallback
	}
	return parsed
}
