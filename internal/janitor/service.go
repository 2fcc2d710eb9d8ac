// Package janitor aborts multipart uploads left open by failed jobs and
// expires result objects once they outlive their retention.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lakequery/lakequery/internal/catalog"
	"github.com/lakequery/lakequery/internal/storage"
)

type Catalog interface {
	ListExpirableJobs(ctx context.Context, finishedBefore time.Time, limit int) ([]catalog.Job, error)
	MarkExpired(ctx context.Context, requestID string) error
}

type ObjectStore interface {
	ListIncompleteUploads(ctx context.Context, bucket, prefix string) ([]storage.IncompleteUpload, error)
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

type Config struct {
	Interval       time.Duration
	ResultTTL      time.Duration
	StaleUploadAge time.Duration
	BatchLimit     int
	ResultsBucket  string
	ResultsPrefix  string
}

type Service struct {
	Catalog     Catalog
	ObjectStore ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time

	defaults sync.Once
}

type Summary struct {
	UploadsScanned int `json:"uploads_scanned"`
	UploadsAborted int `json:"uploads_aborted"`
	JobsScanned    int `json:"jobs_scanned"`
	JobsExpired    int `json:"jobs_expired"`
	ObjectsDeleted int `json:"objects_deleted"`
	Failures       int `json:"failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.ErrorContext(ctx, "janitor run failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce aborts stale uploads and then expires old results. Per-item
// failures are counted in the summary; listing failures abort the run.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	s.ensureDefaults()
	summary := Summary{}

	if err := s.abortStaleUploads(ctx, &summary); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return summary, err
	}
	if err := s.expireResults(ctx, &summary); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return summary, err
	}

	status := "succeeded"
	if summary.Failures > 0 {
		status = "partial"
	}
	runsTotal.WithLabelValues(status).Inc()

	if s.Logger != nil {
		s.Logger.InfoContext(ctx, "janitor run completed",
			slog.Int("uploads_scanned", summary.UploadsScanned),
			slog.Int("uploads_aborted", summary.UploadsAborted),
			slog.Int("jobs_scanned", summary.JobsScanned),
			slog.Int("jobs_expired", summary.JobsExpired),
			slog.Int("objects_deleted", summary.ObjectsDeleted),
			slog.Int("failures", summary.Failures),
		)
	}
	return summary, nil
}

func (s *Service) abortStaleUploads(ctx context.Context, summary *Summary) error {
	uploads, err := s.ObjectStore.ListIncompleteUploads(ctx, s.Config.ResultsBucket, s.Config.ResultsPrefix)
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotFound) {
			return nil
		}
		return fmt.Errorf("list incomplete uploads: %w", err)
	}

	cutoff := s.Clock().Add(-s.Config.StaleUploadAge)
	for _, upload := range uploads {
		summary.UploadsScanned++
		if !upload.Initiated.Before(cutoff) {
			continue
		}
		if err := s.ObjectStore.AbortMultipart(ctx, s.Config.ResultsBucket, upload.Key, upload.UploadID); err != nil {
			summary.Failures++
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "abort stale upload failed",
					slog.String("key", upload.Key),
					slog.String("upload_id", upload.UploadID),
					slog.Any("error", err),
				)
			}
			continue
		}
		summary.UploadsAborted++
		uploadsAbortedTotal.Inc()
	}
	return nil
}

func (s *Service) expireResults(ctx context.Context, summary *Summary) error {
	cutoff := s.Clock().Add(-s.Config.ResultTTL)
	jobs, err := s.Catalog.ListExpirableJobs(ctx, cutoff, s.Config.BatchLimit)
	if err != nil {
		return fmt.Errorf("list expirable jobs: %w", err)
	}

	for _, job := range jobs {
		summary.JobsScanned++
		if err := s.expireJob(ctx, job, summary); err != nil {
			summary.Failures++
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "expire job results failed",
					slog.String("request_id", job.RequestID),
					slog.Any("error", err),
				)
			}
			continue
		}
		summary.JobsExpired++
		resultsExpiredTotal.Inc()
	}
	return nil
}

// expireJob deletes both result objects before marking the job. Objects that
// were never written are skipped.
func (s *Service) expireJob(ctx context.Context, job catalog.Job, summary *Summary) error {
	bucket := job.ResultBucket
	if bucket == "" {
		bucket = s.Config.ResultsBucket
	}
	for _, key := range []string{job.ResultParquetKey, job.ResultJSONKey} {
		if key == "" {
			continue
		}
		if err := s.ObjectStore.DeleteObject(ctx, bucket, key); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				continue
			}
			return fmt.Errorf("delete %s: %w", key, err)
		}
		summary.ObjectsDeleted++
		objectsDeletedTotal.Inc()
	}

	if err := s.Catalog.MarkExpired(ctx, job.RequestID); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("mark expired: %w", err)
	}
	return nil
}

// ensureDefaults is safe to call from concurrent runs.
func (s *Service) ensureDefaults() {
	s.defaults.Do(s.applyDefaults)
}

func (s *Service) applyDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.Interval <= 0 {
		s.Config.Interval = 10 * time.Minute
	}
	if s.Config.ResultTTL <= 0 {
		s.Config.ResultTTL = 7 * 24 * time.Hour
	}
	if s.Config.StaleUploadAge <= 0 {
		s.Config.StaleUploadAge = 24 * time.Hour
	}
	if s.Config.BatchLimit <= 0 {
		s.Config.BatchLimit = 100
	}
}
