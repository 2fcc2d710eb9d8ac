package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/lakequery/lakequery/internal/catalog"
)

var jobColumnNames = []string{
	"request_id", "tenant_id", "status", "submitted_query", "prepared_query", "table_name", "table_path",
	"result_bucket", "result_parquet_key", "result_json_key", "attempt", "lease_owner", "lease_until",
	"error_kind", "error_code", "error_message", "row_count", "parquet_bytes", "json_bytes", "upload_strategy",
	"created_at", "started_at", "finished_at", "expired_at",
}

func TestCreateJob(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO query_job (request_id, tenant_id, status, submitted_query, prepared_query, table_name, table_path, result_bucket, result_parquet_key, result_json_key)
VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at`)).
		WithArgs("req-1", "tenant-1", "select * from 's3://lake/images/'", "SELECT * FROM images LIMIT 1000", "images", "s3://lake/images/", "results", "out/req-1.parquet", "out/req-1.json").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	job, err := repo.CreateJob(context.Background(), catalog.CreateJobInput{
		RequestID:        "req-1",
		TenantID:         "tenant-1",
		SubmittedQuery:   "select * from 's3://lake/images/'",
		PreparedQuery:    "SELECT * FROM images LIMIT 1000",
		TableName:        "images",
		TablePath:        "s3://lake/images/",
		ResultBucket:     "results",
		ResultParquetKey: "out/req-1.parquet",
		ResultJSONKey:    "out/req-1.json",
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if job.Status != catalog.StatusPending {
		t.Fatalf("Status = %q", job.Status)
	}
	if !job.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", job.CreatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestCreateJobRequiresIDs(t *testing.T) {
	db, _ := newSQLMock(t)
	if _, err := NewRepository(db).CreateJob(context.Background(), catalog.CreateJobInput{TenantID: "t"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetJobScansSucceededJob(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	created := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	finished := created.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM query_job
WHERE tenant_id = $1 AND request_id = $2`)).
		WithArgs("tenant-1", "req-1").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(jobRow("succeeded", created, &finished,
			nil, nil, nil, int64(12), int64(2048), int64(512), "sequential")...))

	job, err := repo.GetJob(context.Background(), "tenant-1", "req-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != catalog.StatusSucceeded {
		t.Fatalf("Status = %q", job.Status)
	}
	if job.Result == nil || job.Result.RowCount != 12 || job.Result.UploadStrategy != "sequential" {
		t.Fatalf("Result = %+v", job.Result)
	}
	if job.Failure != nil {
		t.Fatalf("Failure = %+v", job.Failure)
	}
	if job.FinishedAt == nil || !job.FinishedAt.Equal(finished) {
		t.Fatalf("FinishedAt = %v", job.FinishedAt)
	}
	assertSQLMock(t, mock)
}

func TestGetJobScansFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM query_job`)).
		WithArgs("tenant-1", "req-2").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(jobRow("failed", created, &created,
			"transport", "UPLOAD_PART_FAILED", "upload part 2", nil, nil, nil, nil)...))

	job, err := repo.GetJob(context.Background(), "tenant-1", "req-2")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Failure == nil || job.Failure.Kind != "transport" || job.Failure.Code != "UPLOAD_PART_FAILED" {
		t.Fatalf("Failure = %+v", job.Failure)
	}
	if job.Result != nil {
		t.Fatalf("Result = %+v", job.Result)
	}
	assertSQLMock(t, mock)
}

func TestGetJobReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM query_job`)).
		WithArgs("tenant-1", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetJob(context.Background(), "tenant-1", "missing")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestListExpirableJobs(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	cutoff := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	finished := cutoff.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status IN ('succeeded', 'failed') AND finished_at < $1
ORDER BY finished_at ASC
LIMIT $2`)).
		WithArgs(cutoff, 5).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(jobRow("succeeded", finished, &finished, nil, nil, nil, int64(1), int64(10), int64(5), "sequential")...).
			AddRow(jobRow("failed", finished, &finished, "semantic", "TABLE_PATH_NOT_FOUND", "gone", nil, nil, nil, nil)...))

	jobs, err := repo.ListExpirableJobs(context.Background(), cutoff, 5)
	if err != nil {
		t.Fatalf("ListExpirableJobs() error = %v", err)
	}
	if len(jobs) != 2 || jobs[1].Status != catalog.StatusFailed {
		t.Fatalf("jobs = %+v", jobs)
	}
	assertSQLMock(t, mock)
}

func TestMarkExpired(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'expired', expired_at = NOW()`)).
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'expired', expired_at = NOW()`)).
		WithArgs("req-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkExpired(context.Background(), "req-1"); err != nil {
		t.Fatalf("MarkExpired() error = %v", err)
	}
	if err := repo.MarkExpired(context.Background(), "req-2"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("MarkExpired() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestCountPendingJobs(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM query_job WHERE status = 'pending'`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	count, err := repo.CountPendingJobs(context.Background())
	if err != nil {
		t.Fatalf("CountPendingJobs() error = %v", err)
	}
	if count != 7 {
		t.Fatalf("count = %d", count)
	}
	assertSQLMock(t, mock)
}

func jobRow(status string, created time.Time, finished *time.Time, errorKind, errorCode, errorMessage, rowCount, parquetBytes, jsonBytes, strategy any) []driver.Value {
	var finishedValue any
	if finished != nil {
		finishedValue = *finished
	}
	return []driver.Value{
		"req-1", "tenant-1", status, "select * from images", "SELECT * FROM images LIMIT 1000", "images", "s3://lake/images/",
		"results", "out/req-1.parquet", "out/req-1.json", int64(1), nil, nil,
		errorKind, errorCode, errorMessage, rowCount, parquetBytes, jsonBytes, strategy,
		created, created, finishedValue, nil,
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
