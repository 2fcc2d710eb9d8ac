package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lakequery/lakequery/internal/auth"
	"github.com/lakequery/lakequery/internal/catalog"
	"github.com/lakequery/lakequery/internal/config"
	"github.com/lakequery/lakequery/internal/janitor"
	"github.com/lakequery/lakequery/internal/observability"
	"github.com/lakequery/lakequery/internal/planner"
	"github.com/lakequery/lakequery/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type QueryPlanner interface {
	Plan(ctx context.Context, rawQuery, tablePath string) (planner.Plan, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, in catalog.CreateJobInput) (catalog.Job, error)
	GetJob(ctx context.Context, tenantID, requestID string) (catalog.Job, error)
}

type JanitorRunner interface {
	RunOnce(ctx context.Context) (janitor.Summary, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Planner           QueryPlanner
	Jobs              JobStore
	Presigner         storage.Presigner
	Janitor           JanitorRunner
	// NewRequestID defaults to a random UUID.
	NewRequestID func() string
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleSubmitQuery(cfg, deps, w, r)
	})
	protected.HandleFunc("GET /v1/query/{request_id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetQuery(cfg, deps, w, r)
	})
	protected.HandleFunc("POST /v1/janitor/run", func(w http.ResponseWriter, r *http.Request) {
		handleJanitorRun(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("GET /v1/query/{request_id}", protectedHandler)
	mux.Handle("POST /v1/janitor/run", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.MetricsMiddleware)
	return chain(mux, middlewares...)
}

// CheckCatalog pings the job catalog.
func CheckCatalog(check func(ctx context.Context) error) ReadinessCheck {
	return func(ctx context.Context) error {
		if check == nil {
			return errors.New("catalog is not configured")
		}
		if err := check(ctx); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		return nil
	}
}

// CheckResultsBucket verifies the bucket results are uploaded to exists.
func CheckResultsBucket(cfg config.Config, prober storage.Prober) ReadinessCheck {
	return func(ctx context.Context) error {
		if cfg.ObjectStore.ResultsBucket == "" {
			return errors.New("results bucket is not configured")
		}
		if prober == nil {
			return errors.New("object store is not configured")
		}
		exists, err := prober.BucketExists(ctx, cfg.ObjectStore.ResultsBucket)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		if !exists {
			return fmt.Errorf("results bucket %q does not exist", cfg.ObjectStore.ResultsBucket)
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func tenantFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.TenantID) != "" {
			return identity.TenantID, nil
		}
	}
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	if tenantID == "" {
		return "", fmt.Errorf("tenant context is required")
	}
	return tenantID, nil
}

func requireRole(r *http.Request, role string) error {
	return auth.Authorize(r.Context(), role)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
