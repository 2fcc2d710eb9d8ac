package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:query_runner|query_runner, k2:t2:ops_admin")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.TenantID != "t1" || len(identity.Roles) != 1 {
		t.Fatalf("identity = %+v", identity)
	}
	if !identity.HasRole(RoleQueryRunner) || identity.HasRole(RoleOpsAdmin) {
		t.Fatalf("roles = %v", identity.Roles)
	}

	admin, _ := validator.Validate(context.Background(), "k2")
	if !admin.HasRole(RoleQueryRunner) {
		t.Fatal("ops_admin should hold query_runner")
	}
}

func TestStaticAPIKeyValidatorRejectsMalformedEntries(t *testing.T) {
	for _, entries := range []string{"invalid", "k1::query_runner", "k1:t1:|", "k1:t1:a,k1:t2:b"} {
		if _, err := NewStaticAPIKeyValidator(entries); err == nil {
			t.Fatalf("NewStaticAPIKeyValidator(%q) expected error", entries)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:query_runner")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range []string{"", "Basic abc", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("Authorization %q: status = %d, want %d", header, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:query_runner")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.TenantID != "t1" {
			t.Fatalf("TenantID = %q", identity.TenantID)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("X-API-Key", "k1") },
		func(r *http.Request) { r.Header.Set("Authorization", "bearer k1") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/query/abc", nil)
		set(req)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rr.Code)
		}
	}
}

func TestAuthorize(t *testing.T) {
	if err := Authorize(context.Background(), RoleOpsAdmin); err != nil {
		t.Fatalf("Authorize() without identity error = %v", err)
	}
	ctx := WithIdentity(context.Background(), Identity{TenantID: "t1", Roles: []string{RoleQueryRunner}})
	if err := Authorize(ctx, RoleQueryRunner); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if err := Authorize(ctx, RoleOpsAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Authorize() error = %v, want ErrForbidden", err)
	}
}
