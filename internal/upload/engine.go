// Package upload writes an in-memory result buffer to object storage with the
// multipart protocol, either one part at a time or through a bounded pool of
// concurrent part uploads.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lakequery/lakequery/internal/failure"
	"github.com/lakequery/lakequery/internal/storage"
)

type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyConcurrent Strategy = "concurrent"
)

const (
	DefaultChunkSize         = 10_000_000
	DefaultParallelThreshold = 300_000_000
	DefaultMaxWorkers        = 10
	DefaultMaxChunks         = 10_000
)

// Uploader is the part of the multipart protocol the engine drives.
type Uploader interface {
	CreateMultipart(ctx context.Context, bucket, key string, opts storage.PutOptions) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (string, error)
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error)
}

type Config struct {
	ChunkSize         int
	ParallelThreshold int
	MaxWorkers        int
	// MaxChunks is advisory. Exceeding it is logged, not rejected.
	MaxChunks int
}

// Job owns Buffer until the upload finishes. Chunks are read-only views
// into it.
type Job struct {
	Bucket      string
	Key         string
	ContentType string
	Buffer      []byte
}

type Result struct {
	Strategy Strategy
	UploadID string
	Parts    []storage.CompletedPart
	Bytes    int64
	Object   storage.ObjectInfo
}

// Chunk is one part of a job buffer. PartNumber starts at 1.
type Chunk struct {
	PartNumber int
	Data       []byte
}

type Engine struct {
	Uploader Uploader
	Config   Config
	Logger   *slog.Logger
}

// Upload picks the concurrent strategy for buffers larger than the parallel
// threshold and the sequential one otherwise.
func (e *Engine) Upload(ctx context.Context, job Job) (Result, error) {
	if len(job.Buffer) > e.resolved().ParallelThreshold {
		return e.Concurrent(ctx, job)
	}
	return e.Sequential(ctx, job)
}

// Sequential uploads the chunks of job one after another in ascending part
// order and completes the upload with the parts in that order.
func (e *Engine) Sequential(ctx context.Context, job Job) (Result, error) {
	cfg := e.resolved()
	started := time.Now()

	uploadID, chunks, err := e.begin(ctx, cfg, job, StrategySequential)
	if err != nil {
		return Result{}, err
	}

	parts := make([]storage.CompletedPart, 0, len(chunks))
	for _, chunk := range chunks {
		part, err := e.uploadChunk(ctx, job, uploadID, chunk, StrategySequential, nil)
		if err != nil {
			return e.fail(ctx, job, StrategySequential, err)
		}
		parts = append(parts, part)
	}

	return e.complete(ctx, job, StrategySequential, uploadID, parts, started)
}

// Concurrent uploads the chunks of job in parallel. At most MaxWorkers part
// uploads are in flight; a permit is released as soon as its part call
// returns. Parts are sorted by part number before completion because they
// finish in any order. The first failed part fails the job and the upload is
// never completed.
func (e *Engine) Concurrent(ctx context.Context, job Job) (Result, error) {
	cfg := e.resolved()
	started := time.Now()

	uploadID, chunks, err := e.begin(ctx, cfg, job, StrategyConcurrent)
	if err != nil {
		return Result{}, err
	}

	permits := semaphore.NewWeighted(int64(cfg.MaxWorkers))
	group, groupCtx := errgroup.WithContext(ctx)
	parts := make([]storage.CompletedPart, len(chunks))

	for i, chunk := range chunks {
		if err := permits.Acquire(groupCtx, 1); err != nil {
			break
		}
		group.Go(func() error {
			part, err := e.uploadChunk(groupCtx, job, uploadID, chunk, StrategyConcurrent, func() { permits.Release(1) })
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return e.fail(ctx, job, StrategyConcurrent, err)
	}
	if err := ctx.Err(); err != nil {
		return e.fail(ctx, job, StrategyConcurrent, failure.Transport(failure.CodeUploadPart, "upload canceled", err))
	}

	sort.Slice(parts, func(i, j int) bool {
		return parts[i].PartNumber < parts[j].PartNumber
	})
	return e.complete(ctx, job, StrategyConcurrent, uploadID, parts, started)
}

// uploadChunk uploads one part. release, when set, runs as soon as the part
// call returns.
func (e *Engine) uploadChunk(ctx context.Context, job Job, uploadID string, chunk Chunk, strategy Strategy, release func()) (storage.CompletedPart, error) {
	inflightParts.Inc()
	etag, err := e.Uploader.UploadPart(ctx, job.Bucket, job.Key, uploadID, chunk.PartNumber, chunk.Data)
	inflightParts.Dec()
	if release != nil {
		release()
	}
	if err != nil {
		return storage.CompletedPart{}, failure.Transport(failure.CodeUploadPart, fmt.Sprintf("upload part %d of %s", chunk.PartNumber, job.Key), err)
	}
	partsUploadedTotal.WithLabelValues(string(strategy)).Inc()
	bytesUploadedTotal.WithLabelValues(string(strategy)).Add(float64(len(chunk.Data)))
	return storage.CompletedPart{PartNumber: chunk.PartNumber, ETag: etag}, nil
}

func (e *Engine) begin(ctx context.Context, cfg Config, job Job, strategy Strategy) (string, []Chunk, error) {
	if e.Uploader == nil {
		return "", nil, errors.New("uploader is required")
	}
	if job.Bucket == "" || job.Key == "" {
		return "", nil, errors.New("upload job requires bucket and key")
	}

	chunks := Partition(job.Buffer, cfg.ChunkSize)
	if len(chunks) > cfg.MaxChunks && e.Logger != nil {
		e.Logger.WarnContext(ctx, "upload exceeds advisory chunk ceiling",
			slog.String("key", job.Key),
			slog.Int("chunks", len(chunks)),
			slog.Int("max_chunks", cfg.MaxChunks),
		)
	}

	uploadID, err := e.Uploader.CreateMultipart(ctx, job.Bucket, job.Key, storage.PutOptions{ContentType: job.ContentType})
	if err != nil {
		jobsTotal.WithLabelValues(string(strategy), "failed").Inc()
		return "", nil, failure.Transport(failure.CodeObjectStore, fmt.Sprintf("create multipart upload for %s", job.Key), err)
	}
	return uploadID, chunks, nil
}

func (e *Engine) complete(ctx context.Context, job Job, strategy Strategy, uploadID string, parts []storage.CompletedPart, started time.Time) (Result, error) {
	info, err := e.Uploader.CompleteMultipart(ctx, job.Bucket, job.Key, uploadID, parts)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidParts) {
			return e.fail(ctx, job, strategy, failure.Integrity(failure.CodeInvalidParts, fmt.Sprintf("complete multipart upload for %s", job.Key), err))
		}
		return e.fail(ctx, job, strategy, failure.Transport(failure.CodeCompleteUpload, fmt.Sprintf("complete multipart upload for %s", job.Key), err))
	}

	jobsTotal.WithLabelValues(string(strategy), "succeeded").Inc()
	uploadDurationSeconds.WithLabelValues(string(strategy)).Observe(time.Since(started).Seconds())
	if e.Logger != nil {
		e.Logger.InfoContext(ctx, "multipart upload completed",
			slog.String("bucket", job.Bucket),
			slog.String("key", job.Key),
			slog.String("strategy", string(strategy)),
			slog.Int("parts", len(parts)),
			slog.Int("bytes", len(job.Buffer)),
		)
	}
	return Result{
		Strategy: strategy,
		UploadID: uploadID,
		Parts:    parts,
		Bytes:    int64(len(job.Buffer)),
		Object:   info,
	}, nil
}

// fail leaves the multipart upload open. Stale uploads are aborted by the
// janitor.
func (e *Engine) fail(ctx context.Context, job Job, strategy Strategy, err error) (Result, error) {
	jobsTotal.WithLabelValues(string(strategy), "failed").Inc()
	if e.Logger != nil {
		e.Logger.ErrorContext(ctx, "multipart upload failed",
			slog.String("bucket", job.Bucket),
			slog.String("key", job.Key),
			slog.String("strategy", string(strategy)),
			slog.Any("error", err),
		)
	}
	return Result{}, err
}

// resolved returns Config with defaults filled in. The engine itself is
// never written to, so one engine can serve concurrent uploads.
func (e *Engine) resolved() Config {
	cfg := e.Config
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = DefaultParallelThreshold
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunks
	}
	return cfg
}

// Partition splits buf into consecutive chunks of chunkSize bytes; the last
// chunk may be shorter. An empty buffer yields a single empty part so the
// upload can still be completed.
func Partition(buf []byte, chunkSize int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(buf) == 0 {
		return []Chunk{{PartNumber: 1, Data: buf}}
	}
	chunks := make([]Chunk, 0, (len(buf)+chunkSize-1)/chunkSize)
	for offset := 0; offset < len(buf); offset += chunkSize {
		end := offset + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		chunks = append(chunks, Chunk{PartNumber: len(chunks) + 1, Data: buf[offset:end:end]})
	}
	return chunks
}
