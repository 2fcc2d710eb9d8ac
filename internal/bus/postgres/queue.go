package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lakequery/lakequery/internal/bus"
	"github.com/lakequery/lakequery/internal/catalog"
)

const defaultLeaseSeconds = 300

type JobQueue struct {
	db    *sql.DB
	clock func() time.Time
}

func NewJobQueue(db *sql.DB) *JobQueue {
	return &JobQueue{db: db, clock: time.Now}
}

// Claim leases up to limit pending jobs, oldest first. Rows locked by another
// consumer are skipped.
func (q *JobQueue) Claim(ctx context.Context, consumerID string, limit int, leaseSeconds int) ([]bus.Lease, error) {
	if consumerID == "" {
		return nil, fmt.Errorf("consumer id is required")
	}
	if limit <= 0 {
		limit = 1
	}
	if leaseSeconds <= 0 {
		leaseSeconds = defaultLeaseSeconds
	}

	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT request_id, tenant_id, prepared_query, table_name, table_path, result_bucket, result_parquet_key, result_json_key, attempt
FROM query_job
WHERE status = 'pending'
ORDER BY created_at ASC
FOR UPDATE SKIP LOCKED
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select claim candidates: %w", err)
	}

	leases := make([]bus.Lease, 0, limit)
	for rows.Next() {
		var lease bus.Lease
		if err := rows.Scan(
			&lease.RequestID,
			&lease.TenantID,
			&lease.PreparedQuery,
			&lease.TableName,
			&lease.TablePath,
			&lease.ResultBucket,
			&lease.ResultParquetKey,
			&lease.ResultJSONKey,
			&lease.Attempt,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan claim candidate: %w", err)
		}
		leases = append(leases, lease)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate claim candidates: %w", err)
	}
	_ = rows.Close()

	if len(leases) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit empty claim tx: %w", err)
		}
		return nil, nil
	}

	leaseUntil := q.clock().UTC().Add(time.Duration(leaseSeconds) * time.Second)
	claimQuery := `
UPDATE query_job
SET status = 'running', lease_owner = $1, lease_until = $2, attempt = attempt + 1, started_at = COALESCE(started_at, NOW())
WHERE request_id = $3`

	for i := range leases {
		if _, err := tx.ExecContext(ctx, claimQuery, consumerID, leaseUntil, leases[i].RequestID); err != nil {
			return nil, fmt.Errorf("claim job %s: %w", leases[i].RequestID, err)
		}
		leases[i].ConsumerID = consumerID
		leases[i].Attempt++
		leases[i].LeaseUntil = leaseUntil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return leases, nil
}

func (q *JobQueue) Complete(ctx context.Context, lease bus.Lease, result catalog.JobResult) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE query_job
SET status = 'succeeded', lease_owner = NULL, lease_until = NULL, finished_at = NOW(),
    row_count = $3, parquet_bytes = $4, json_bytes = $5, upload_strategy = $6
WHERE request_id = $1 AND lease_owner = $2 AND status = 'running'`,
		lease.RequestID,
		lease.ConsumerID,
		result.RowCount,
		result.ParquetBytes,
		result.JSONBytes,
		result.UploadStrategy,
	)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", lease.RequestID, err)
	}
	return requireOwned(res, lease.RequestID)
}

func (q *JobQueue) Fail(ctx context.Context, lease bus.Lease, failure catalog.JobFailure) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE query_job
SET status = 'failed', lease_owner = NULL, lease_until = NULL, finished_at = NOW(),
    error_kind = $3, error_code = $4, error_message = $5
WHERE request_id = $1 AND lease_owner = $2 AND status = 'running'`,
		lease.RequestID,
		lease.ConsumerID,
		failure.Kind,
		failure.Code,
		failure.Message,
	)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", lease.RequestID, err)
	}
	return requireOwned(res, lease.RequestID)
}

func (q *JobQueue) ExtendLease(ctx context.Context, lease bus.Lease, leaseSeconds int) (time.Time, error) {
	if leaseSeconds <= 0 {
		leaseSeconds = defaultLeaseSeconds
	}
	leaseUntil := q.clock().UTC().Add(time.Duration(leaseSeconds) * time.Second)

	res, err := q.db.ExecContext(ctx, `
UPDATE query_job
SET lease_until = $3
WHERE request_id = $1 AND lease_owner = $2 AND status = 'running'`, lease.RequestID, lease.ConsumerID, leaseUntil)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend lease for job %s: %w", lease.RequestID, err)
	}
	if err := requireOwned(res, lease.RequestID); err != nil {
		return time.Time{}, err
	}
	return leaseUntil, nil
}

// RequeueExpired returns running jobs whose lease has lapsed to pending.
func (q *JobQueue) RequeueExpired(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `
WITH moved AS (
    UPDATE query_job
    SET status = 'pending', lease_owner = NULL, lease_until = NULL
    WHERE status = 'running' AND lease_until IS NOT NULL AND lease_until < $1
    RETURNING request_id
)
SELECT COUNT(*) FROM moved`, q.clock().UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	return count, nil
}

func requireOwned(res sql.Result, requestID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for job %s: %w", requestID, err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", requestID, catalog.ErrLeaseLost)
	}
	return nil
}

var _ bus.JobQueue = (*JobQueue)(nil)
