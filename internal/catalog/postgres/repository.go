package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lakequery/lakequery/internal/catalog"
)

// JobColumns is the column list every job query selects, in scanJob order.
const JobColumns = `request_id, tenant_id, status::text, submitted_query, prepared_query, table_name, table_path,
       result_bucket, result_parquet_key, result_json_key, attempt, lease_owner, lease_until,
       error_kind, error_code, error_message, row_count, parquet_bytes, json_bytes, upload_strategy,
       created_at, started_at, finished_at, expired_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateJob(ctx context.Context, in catalog.CreateJobInput) (catalog.Job, error) {
	if in.RequestID == "" || in.TenantID == "" {
		return catalog.Job{}, fmt.Errorf("request id and tenant id are required")
	}

	query := `
INSERT INTO query_job (request_id, tenant_id, status, submitted_query, prepared_query, table_name, table_path, result_bucket, result_parquet_key, result_json_key)
VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at`

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
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.RequestID,
		in.TenantID,
		in.SubmittedQuery,
		in.PreparedQuery,
		in.TableName,
		in.TablePath,
		in.ResultBucket,
		in.ResultParquetKey,
		in.ResultJSONKey,
	).Scan(&job.CreatedAt); err != nil {
		return catalog.Job{}, fmt.Errorf("create query job: %w", err)
	}
	return job, nil
}

func (r *Repository) GetJob(ctx context.Context, tenantID, requestID string) (catalog.Job, error) {
	query := `
SELECT ` + JobColumns + `
FROM query_job
WHERE tenant_id = $1 AND request_id = $2`

	job, err := ScanJob(r.db.QueryRowContext(ctx, query, tenantID, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Job{}, catalog.ErrNotFound
		}
		return catalog.Job{}, fmt.Errorf("get query job: %w", err)
	}
	return job, nil
}

// ListExpirableJobs returns finished jobs whose results are older than
// finishedBefore, oldest first.
func (r *Repository) ListExpirableJobs(ctx context.Context, finishedBefore time.Time, limit int) ([]catalog.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+JobColumns+`
FROM query_job
WHERE status IN ('succeeded', 'failed') AND finished_at < $1
ORDER BY finished_at ASC
LIMIT $2`, finishedBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]catalog.Job, 0)
	for rows.Next() {
		job, err := ScanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan query job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query job rows: %w", err)
	}
	return jobs, nil
}

func (r *Repository) MarkExpired(ctx context.Context, requestID string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE query_job
SET status = 'expired', expired_at = NOW()
WHERE request_id = $1 AND status IN ('succeeded', 'failed')`, requestID)
	if err != nil {
		return fmt.Errorf("mark job %s expired: %w", requestID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark job %s expired: %w", requestID, err)
	}
	if affected == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *Repository) CountPendingJobs(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_job WHERE status = 'pending'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return count, nil
}

// ScanJob reads one row selected with JobColumns.
func ScanJob(row rowScanner) (catalog.Job, error) {
	var (
		job          catalog.Job
		status       string
		leaseOwner   sql.NullString
		errorKind    sql.NullString
		errorCode    sql.NullString
		errorMessage sql.NullString
		rowCount     sql.NullInt64
		parquetBytes sql.NullInt64
		jsonBytes    sql.NullInt64
		strategy     sql.NullString
	)
	if err := row.Scan(
		&job.RequestID,
		&job.TenantID,
		&status,
		&job.SubmittedQuery,
		&job.PreparedQuery,
		&job.TableName,
		&job.TablePath,
		&job.ResultBucket,
		&job.ResultParquetKey,
		&job.ResultJSONKey,
		&job.Attempt,
		&leaseOwner,
		&job.LeaseUntil,
		&errorKind,
		&errorCode,
		&errorMessage,
		&rowCount,
		&parquetBytes,
		&jsonBytes,
		&strategy,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
		&job.ExpiredAt,
	); err != nil {
		return catalog.Job{}, err
	}

	job.Status = catalog.JobStatus(status)
	job.LeaseOwner = leaseOwner.String
	if errorKind.Valid || errorCode.Valid {
		job.Failure = &catalog.JobFailure{Kind: errorKind.String, Code: errorCode.String, Message: errorMessage.String}
	}
	if job.Status == catalog.StatusSucceeded || rowCount.Valid {
		job.Result = &catalog.JobResult{
			RowCount:       rowCount.Int64,
			ParquetBytes:   parquetBytes.Int64,
			JSONBytes:      jsonBytes.Int64,
			UploadStrategy: strategy.String,
		}
	}
	return job, nil
}
