// Package catalog holds the durable record of every submitted query job.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("catalog: not found")
	// ErrLeaseLost is returned when a worker reports on a job it no longer
	// holds the lease for.
	ErrLeaseLost = errors.New("catalog: lease lost")
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusExpired   JobStatus = "expired"
)

func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusExpired
}

type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateJob(ctx context.Context, in CreateJobInput) (Job, error)
	GetJob(ctx context.Context, tenantID, requestID string) (Job, error)
	ListExpirableJobs(ctx context.Context, finishedBefore time.Time, limit int) ([]Job, error)
	MarkExpired(ctx context.Context, requestID string) error
	CountPendingJobs(ctx context.Context) (int64, error)
}

type Job struct {
	RequestID        string
	TenantID         string
	Status           JobStatus
	SubmittedQuery   string
	PreparedQuery    string
	TableName        string
	TablePath        string
	ResultBucket     string
	ResultParquetKey string
	ResultJSONKey    string
	Attempt          int
	LeaseOwner       string
	LeaseUntil       *time.Time
	Failure          *JobFailure
	Result           *JobResult
	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
	ExpiredAt        *time.Time
}

type CreateJobInput struct {
	RequestID        string
	TenantID         string
	SubmittedQuery   string
	PreparedQuery    string
	TableName        string
	TablePath        string
	ResultBucket     string
	ResultParquetKey string
	ResultJSONKey    string
}

type JobResult struct {
	RowCount       int64
	ParquetBytes   int64
	JSONBytes      int64
	UploadStrategy string
}

type JobFailure struct {
	Kind    string
	Code    string
	Message string
}
