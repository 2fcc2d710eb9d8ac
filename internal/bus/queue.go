// Package bus dispatches accepted query jobs to remote workers through
// leased claims.
package bus

import (
	"context"
	"time"

	"github.com/lakequery/lakequery/internal/catalog"
)

// Lease is a claimed job. It stays valid until LeaseUntil unless extended.
type Lease struct {
	RequestID        string
	TenantID         string
	ConsumerID       string
	PreparedQuery    string
	TableName        string
	TablePath        string
	ResultBucket     string
	ResultParquetKey string
	ResultJSONKey    string
	Attempt          int
	LeaseUntil       time.Time
}

type JobQueue interface {
	Claim(ctx context.Context, consumerID string, limit int, leaseSeconds int) ([]Lease, error)
	Complete(ctx context.Context, lease Lease, result catalog.JobResult) error
	Fail(ctx context.Context, lease Lease, failure catalog.JobFailure) error
	ExtendLease(ctx context.Context, lease Lease, leaseSeconds int) (time.Time, error)
	RequeueExpired(ctx context.Context) (int, error)
}
