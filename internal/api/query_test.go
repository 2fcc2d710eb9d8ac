package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lakequery/lakequery/internal/catalog"
	"github.com/lakequery/lakequery/internal/planner"
	"github.com/lakequery/lakequery/internal/storage"
)

func TestSubmitQueryAcceptsAndRecordsJob(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	jobs := newFakeJobStore()
	presigner := &fakePresigner{}
	h := NewHandler(cfg, Dependencies{
		Planner:      planner.New(eventsProber(), 1000, ""),
		Jobs:         jobs,
		Presigner:    presigner,
		NewRequestID: func() string { return "req-1" },
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"select * from 's3://data/events/'"}`))
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["request_id"] != "req-1" || body["status"] != "pending" {
		t.Fatalf("body = %v", body)
	}
	if body["query"] != "SELECT * FROM events LIMIT 1000" || body["table_name"] != "events" {
		t.Fatalf("query = %v table = %v", body["query"], body["table_name"])
	}
	if body["result_parquet"] != "https://signed/lakequery-results/results/req-1.parquet" {
		t.Fatalf("result_parquet = %v", body["result_parquet"])
	}
	if body["result_json"] != "https://signed/lakequery-results/results/req-1.json" {
		t.Fatalf("result_json = %v", body["result_json"])
	}

	job, ok := jobs.jobs["tenant-a/req-1"]
	if !ok {
		t.Fatal("job was not recorded")
	}
	if job.TablePath != "s3://data/events/" || job.PreparedQuery != "SELECT * FROM events LIMIT 1000" {
		t.Fatalf("job = %+v", job)
	}
	if job.ResultBucket != "lakequery-results" || job.ResultParquetKey != "results/req-1.parquet" || job.ResultJSONKey != "results/req-1.json" {
		t.Fatalf("job result keys = %+v", job)
	}

	if len(presigner.calls) != 2 {
		t.Fatalf("presign calls = %d", len(presigner.calls))
	}
	if presigner.calls[0].opts.ContentDisposition != `attachment; filename="download.parquet"` {
		t.Fatalf("parquet disposition = %q", presigner.calls[0].opts.ContentDisposition)
	}
	if presigner.calls[1].opts.ContentType != "application/json" {
		t.Fatalf("json content type = %q", presigner.calls[1].opts.ContentType)
	}
	if presigner.calls[0].ttl != time.Hour {
		t.Fatalf("ttl = %s", presigner.calls[0].ttl)
	}
}

func TestSubmitQueryUsesRequestTablePath(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	jobs := newFakeJobStore()
	h := NewHandler(cfg, Dependencies{
		Planner:      planner.New(eventsProber(), 1000, ""),
		Jobs:         jobs,
		Presigner:    &fakePresigner{},
		NewRequestID: func() string { return "req-2" },
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"select id from events limit 5","table_path":"s3://data/events"}`))
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if job := jobs.jobs["tenant-a/req-2"]; job.TableName != "events" || job.PreparedQuery != "SELECT id FROM events LIMIT 5" {
		t.Fatalf("job = %+v", job)
	}
}

func TestSubmitQueryRejections(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	tests := []struct {
		name      string
		body      string
		prober    *fakeProber
		status    int
		code      string
		retryable bool
	}{
		{"invalid json", `{"query":`, eventsProber(), http.StatusBadRequest, "INVALID_JSON", false},
		{"unknown field", `{"query":"select 1","limit":3}`, eventsProber(), http.StatusBadRequest, "INVALID_JSON", false},
		{"parse error", `{"query":"select * from"}`, eventsProber(), http.StatusBadRequest, "SQL_PARSE_ERROR", false},
		{"bare words in select list", `{"query":"select a b c d from 's3://data/events/'"}`, eventsProber(), http.StatusBadRequest, "SQL_PARSE_ERROR", false},
		{"adjacent literals", `{"query":"select 1 1 from 's3://data/events/'"}`, eventsProber(), http.StatusBadRequest, "SQL_PARSE_ERROR", false},
		{"malformed limit", `{"query":"select * from 's3://data/events/' limit abc def"}`, eventsProber(), http.StatusBadRequest, "SQL_PARSE_ERROR", false},
		{"mutation", `{"query":"delete from events"}`, eventsProber(), http.StatusBadRequest, "UNSUPPORTED_QUERY_TYPE", false},
		{"no table", `{"query":"select 1"}`, eventsProber(), http.StatusBadRequest, "INVALID_TABLE_NAME", false},
		{"path required", `{"query":"select * from events"}`, eventsProber(), http.StatusBadRequest, "TABLE_PATH_REQUIRED", false},
		{"bad scheme", `{"query":"select * from events","table_path":"gs://data/events"}`, eventsProber(), http.StatusBadRequest, "INVALID_SCHEME", false},
		{"missing path", `{"query":"select * from 's3://data/clicks/'"}`, eventsProber(), http.StatusNotFound, "TABLE_PATH_NOT_FOUND", false},
		{"object store down", `{"query":"select * from 's3://data/events/'"}`, &fakeProber{err: errors.New("dial tcp: refused")}, http.StatusBadGateway, "OBJECT_STORE_ERROR", true},
	}

	for _, tt := range tests {
		jobs := newFakeJobStore()
		h := NewHandler(cfg, Dependencies{
			Planner:   planner.New(tt.prober, 1000, ""),
			Jobs:      jobs,
			Presigner: &fakePresigner{},
		})
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(tt.body))
		req.Header.Set("X-Tenant-ID", "tenant-a")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != tt.status {
			t.Fatalf("%s: status = %d, want %d (body = %s)", tt.name, rr.Code, tt.status, rr.Body.String())
		}
		body := decodeBody(t, rr)
		if body["error_code"] != tt.code {
			t.Fatalf("%s: error_code = %v, want %s", tt.name, body["error_code"], tt.code)
		}
		if body["retryable"] != tt.retryable {
			t.Fatalf("%s: retryable = %v", tt.name, body["retryable"])
		}
		if len(jobs.jobs) != 0 {
			t.Fatalf("%s: job recorded for rejected query", tt.name)
		}
	}
}

func TestSubmitQueryRequiresTenant(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	h := NewHandler(cfg, Dependencies{
		Planner:   planner.New(eventsProber(), 1000, ""),
		Jobs:      newFakeJobStore(),
		Presigner: &fakePresigner{},
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"select * from 's3://data/events/'"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestSubmitQueryPresignFailureSkipsJob(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	jobs := newFakeJobStore()
	h := NewHandler(cfg, Dependencies{
		Planner:   planner.New(eventsProber(), 1000, ""),
		Jobs:      jobs,
		Presigner: &fakePresigner{err: errors.New("no credentials")},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"select * from 's3://data/events/'"}`))
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(jobs.jobs) != 0 {
		t.Fatal("job recorded despite presign failure")
	}
}

func TestSubmitQueryNotConfigured(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	h := NewHandler(cfg, Dependencies{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestGetQueryReportsStatus(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jobs := newFakeJobStore()
	jobs.jobs["tenant-a/done"] = catalog.Job{
		RequestID:        "done",
		TenantID:         "tenant-a",
		Status:           catalog.StatusSucceeded,
		PreparedQuery:    "SELECT * FROM events LIMIT 1000",
		TableName:        "events",
		ResultBucket:     "lakequery-results",
		ResultParquetKey: "results/done.parquet",
		ResultJSONKey:    "results/done.json",
		Attempt:          1,
		Result:           &catalog.JobResult{RowCount: 42, ParquetBytes: 1024, JSONBytes: 2048, UploadStrategy: "sequential"},
		FinishedAt:       &finished,
	}
	jobs.jobs["tenant-a/broken"] = catalog.Job{
		RequestID: "broken",
		TenantID:  "tenant-a",
		Status:    catalog.StatusFailed,
		Failure:   &catalog.JobFailure{Kind: "transport", Code: "UPLOAD_PART_FAILED", Message: "upload part 2"},
	}
	h := NewHandler(cfg, Dependencies{Jobs: jobs, Presigner: &fakePresigner{}})

	rr := getJob(h, "done", "tenant-a")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["status"] != "succeeded" || body["result_parquet"] != "https://signed/lakequery-results/results/done.parquet" {
		t.Fatalf("body = %v", body)
	}
	result, _ := body["result"].(map[string]any)
	if result["row_count"] != float64(42) || result["upload_strategy"] != "sequential" {
		t.Fatalf("result = %v", result)
	}

	rr = getJob(h, "broken", "tenant-a")
	body = decodeBody(t, rr)
	failed, _ := body["error"].(map[string]any)
	if body["status"] != "failed" || failed["code"] != "UPLOAD_PART_FAILED" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["result_parquet"]; ok {
		t.Fatal("failed job should not carry result urls")
	}

	if rr := getJob(h, "done", "tenant-b"); rr.Code != http.StatusNotFound {
		t.Fatalf("other tenant status = %d", rr.Code)
	}
}

func getJob(h http.Handler, requestID, tenantID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/query/"+requestID, nil)
	req.Header.Set("X-Tenant-ID", tenantID)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func eventsProber() *fakeProber {
	return &fakeProber{
		buckets: map[string]bool{"data": true, "lakequery-results": true},
		objects: map[string][]storage.ObjectInfo{
			"data": {{Key: "events/part-0.parquet", Size: 128}},
		},
	}
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]catalog.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]catalog.Job{}}
}

func (s *fakeJobStore) CreateJob(_ context.Context, in catalog.CreateJobInput) (catalog.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := catalog.Job{
		RequestID:        in.RequestID,
		TenantID:         in.TenantID,
		Status:           catalog.StatusPending,
		SubmittedQuery:   in.SubmittedQuery,
		PreparedQuery:    in.PreparedQuery,
		TableName:        in.TableName,
		TablePath:        in.TablePath,
		ResultBucket:     in.ResultBucket,
		ResultParquetKey: in.ResultParquetKey,
		ResultJSONKey:    in.ResultJSONKey,
		CreatedAt:        time.Now().UTC(),
	}
	s.jobs[in.TenantID+"/"+in.RequestID] = job
	return job, nil
}

func (s *fakeJobStore) GetJob(_ context.Context, tenantID, requestID string) (catalog.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[tenantID+"/"+requestID]
	if !ok {
		return catalog.Job{}, catalog.ErrNotFound
	}
	return job, nil
}

type presignCall struct {
	bucket string
	key    string
	ttl    time.Duration
	opts   storage.PresignOptions
}

type fakePresigner struct {
	err   error
	calls []presignCall
}

func (p *fakePresigner) PresignGet(_ context.Context, bucket, key string, ttl time.Duration, opts storage.PresignOptions) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.calls = append(p.calls, presignCall{bucket: bucket, key: key, ttl: ttl, opts: opts})
	return fmt.Sprintf("https://signed/%s/%s", bucket, key), nil
}
