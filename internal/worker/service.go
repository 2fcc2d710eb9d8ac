// Package worker claims dispatched query jobs, runs them against the
// execution engine and uploads the parquet and JSON results.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lakequery/lakequery/internal/bus"
	"github.com/lakequery/lakequery/internal/catalog"
	"github.com/lakequery/lakequery/internal/failure"
	"github.com/lakequery/lakequery/internal/materialize"
	"github.com/lakequery/lakequery/internal/observability"
	"github.com/lakequery/lakequery/internal/query"
	"github.com/lakequery/lakequery/internal/upload"
)

type Service struct {
	Queue    bus.JobQueue
	Executor query.Executor
	Uploads  *upload.Engine
	// Jobs, when set, feeds the pending jobs gauge.
	Jobs   PendingCounter
	Config Config
	Logger *slog.Logger
	Clock  func() time.Time
}

type PendingCounter interface {
	CountPendingJobs(ctx context.Context) (int64, error)
}

type Config struct {
	ConsumerID   string
	ClaimLimit   int
	LeaseSeconds int
	PollInterval time.Duration
	BatchSize    int
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.ProcessOnce(ctx); err != nil {
			if s.Logger != nil {
				s.Logger.ErrorContext(ctx, "worker process cycle failed", slog.Any("error", err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce requeues lapsed leases, claims up to ClaimLimit jobs and runs
// them one after another. A failed job is recorded on the job and does not
// fail the cycle.
func (s *Service) ProcessOnce(ctx context.Context) error {
	s.ensureDefaults()

	requeued, err := s.Queue.RequeueExpired(ctx)
	if err != nil {
		return fmt.Errorf("requeue expired jobs: %w", err)
	}
	if requeued > 0 && s.Logger != nil {
		s.Logger.WarnContext(ctx, "requeued jobs with expired leases", slog.Int("count", requeued))
	}

	leases, err := s.Queue.Claim(ctx, s.Config.ConsumerID, s.Config.ClaimLimit, s.Config.LeaseSeconds)
	if err != nil {
		return fmt.Errorf("claim jobs: %w", err)
	}

	for _, lease := range leases {
		if err := s.runJob(ctx, lease); err != nil {
			return err
		}
	}

	if s.Jobs != nil {
		if pending, err := s.Jobs.CountPendingJobs(ctx); err == nil {
			observability.SetPendingJobs(pending)
		}
	}
	return nil
}

// runJob returns an error only when the outcome could not be recorded.
func (s *Service) runJob(ctx context.Context, lease bus.Lease) error {
	ctx = observability.ContextWithRequestID(ctx, lease.RequestID)
	logger := observability.LoggerFromContext(ctx, s.Logger)
	started := s.Clock()

	jobCtx, cancel := context.WithCancel(ctx)
	stopHeartbeat := s.heartbeat(jobCtx, cancel, lease, logger)
	result, execErr := s.execute(jobCtx, lease)
	stopHeartbeat()
	cancel()

	elapsed := s.Clock().Sub(started)
	if execErr != nil {
		kind := failure.KindOf(execErr)
		code := failure.CodeOf(execErr)
		if code == "" {
			code = failure.CodeExecution
		}
		observability.ObserveWorkerJob(string(catalog.StatusFailed), string(kind), elapsed)
		if logger != nil {
			logger.ErrorContext(ctx, "query job failed",
				slog.String("kind", string(kind)),
				slog.String("code", code),
				slog.Int("attempt", lease.Attempt),
				slog.Any("error", execErr),
			)
		}
		err := s.Queue.Fail(ctx, lease, catalog.JobFailure{Kind: string(kind), Code: code, Message: execErr.Error()})
		return s.recordErr(ctx, logger, lease, err)
	}

	observability.ObserveWorkerJob(string(catalog.StatusSucceeded), "", elapsed)
	if logger != nil {
		logger.InfoContext(ctx, "query job succeeded",
			slog.String("table_name", lease.TableName),
			slog.Int64("rows", result.RowCount),
			slog.Int64("parquet_bytes", result.ParquetBytes),
			slog.Int64("json_bytes", result.JSONBytes),
			slog.String("strategy", result.UploadStrategy),
			slog.Duration("elapsed", elapsed),
		)
	}
	return s.recordErr(ctx, logger, lease, s.Queue.Complete(ctx, lease, result))
}

// recordErr drops lease-lost errors: another worker owns the job now.
func (s *Service) recordErr(ctx context.Context, logger *slog.Logger, lease bus.Lease, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, catalog.ErrLeaseLost) {
		if logger != nil {
			logger.WarnContext(ctx, "lease lost before job outcome was recorded", slog.String("consumer_id", lease.ConsumerID))
		}
		return nil
	}
	return fmt.Errorf("record outcome of job %s: %w", lease.RequestID, err)
}

func (s *Service) execute(ctx context.Context, lease bus.Lease) (catalog.JobResult, error) {
	stream, err := s.Executor.Execute(ctx, query.Request{
		SQL:       lease.PreparedQuery,
		TableName: lease.TableName,
		TablePath: lease.TablePath,
		BatchSize: s.Config.BatchSize,
	})
	if err != nil {
		return catalog.JobResult{}, err
	}
	out, err := materialize.Drain(ctx, stream)
	closeErr := stream.Close()
	if err != nil {
		return catalog.JobResult{}, err
	}
	if closeErr != nil {
		return catalog.JobResult{}, failure.Transport(failure.CodeExecution, "close result stream", closeErr)
	}

	parquetResult, err := s.Uploads.Upload(ctx, upload.Job{
		Bucket:      lease.ResultBucket,
		Key:         lease.ResultParquetKey,
		ContentType: materialize.ContentTypeParquet,
		Buffer:      out.Parquet,
	})
	if err != nil {
		return catalog.JobResult{}, err
	}
	if _, err := s.Uploads.Upload(ctx, upload.Job{
		Bucket:      lease.ResultBucket,
		Key:         lease.ResultJSONKey,
		ContentType: materialize.ContentTypeJSON,
		Buffer:      out.JSON,
	}); err != nil {
		return catalog.JobResult{}, err
	}

	observability.ObserveResult(out.Rows, len(out.Parquet), len(out.JSON))
	return catalog.JobResult{
		RowCount:       out.Rows,
		ParquetBytes:   int64(len(out.Parquet)),
		JSONBytes:      int64(len(out.JSON)),
		UploadStrategy: string(parquetResult.Strategy),
	}, nil
}

// heartbeat extends the lease at half its length while the job runs. If the
// lease is lost the job context is canceled.
func (s *Service) heartbeat(ctx context.Context, cancel context.CancelFunc, lease bus.Lease, logger *slog.Logger) func() {
	interval := time.Duration(s.Config.LeaseSeconds) * time.Second / 2
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Queue.ExtendLease(ctx, lease, s.Config.LeaseSeconds); err != nil {
					if errors.Is(err, catalog.ErrLeaseLost) {
						if logger != nil {
							logger.WarnContext(ctx, "lease lost while job was running")
						}
						cancel()
						return
					}
					if logger != nil {
						logger.WarnContext(ctx, "extend lease failed", slog.Any("error", err))
					}
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Uploads == nil {
		s.Uploads = &upload.Engine{}
	}
	if s.Config.ClaimLimit <= 0 {
		s.Config.ClaimLimit = 1
	}
	if s.Config.LeaseSeconds <= 0 {
		s.Config.LeaseSeconds = 300
	}
	if s.Config.PollInterval <= 0 {
		s.Config.PollInterval = time.Second
	}
	if s.Config.ConsumerID == "" {
		s.Config.ConsumerID = "lakequery-worker"
	}
}
