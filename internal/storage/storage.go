package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrInvalidParts is returned when the store rejects a multipart
	// completion because parts are missing, out of order or mismatched.
	ErrInvalidParts = errors.New("multipart parts rejected")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type PresignOptions struct {
	ContentType        string
	ContentDisposition string
}

type CompletedPart struct {
	PartNumber int
	ETag       string
}

type IncompleteUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

type Prober interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	ListObjects(ctx context.Context, bucket, prefix string, maxKeys int) ([]ObjectInfo, error)
}

type SourceReader interface {
	ListObjects(ctx context.Context, bucket, prefix string, maxKeys int) ([]ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type MultipartUploader interface {
	CreateMultipart(ctx context.Context, bucket, key string, opts PutOptions) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (string, error)
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (ObjectInfo, error)
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
	ListIncompleteUploads(ctx context.Context, bucket, prefix string) ([]IncompleteUpload, error)
}

type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration, opts PresignOptions) (string, error)
}

// ObjectStore is the full capability set implemented by the s3 and awss3
// backends.
type ObjectStore interface {
	Prober
	SourceReader
	MultipartUploader
	Presigner
	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}
