package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lakequery/lakequery/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	AutoCreateBucket bool
	MaxRetries       int
}

type client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
	List(ctx context.Context, bucket, prefix string, maxKeys int) ([]storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	NewMultipart(ctx context.Context, bucket, key, contentType string) (string, error)
	PutPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (string, error)
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error)
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
	ListMultipart(ctx context.Context, bucket, prefix string) ([]storage.IncompleteUpload, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration, params url.Values) (string, error)
}

// Store implements storage.ObjectStore on top of minio-go. It works with any
// S3-compatible endpoint, including AWS S3 itself.
type Store struct {
	client client
	bucket string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{client: mc, bucket: strings.TrimSpace(cfg.Bucket)}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func NewWithClient(bucket string, c client) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{client: c, bucket: strings.TrimSpace(bucket)}, nil
}

// Bucket returns the results bucket the store was configured with.
func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if strings.TrimSpace(bucket) == "" {
		return false, fmt.Errorf("bucket is required")
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("head bucket %q: %w", bucket, err)
	}
	return exists, nil
}

func (s *Store) ListObjects(ctx context.Context, bucket, prefix string, maxKeys int) ([]storage.ObjectInfo, error) {
	objects, err := s.client.List(ctx, bucket, strings.TrimPrefix(prefix, "/"), maxKeys)
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotFound) {
			return nil, storage.ErrBucketNotFound
		}
		return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, err)
	}
	return objects, nil
}

func (s *Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Get(ctx, bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", normalized, err)
	}
	return reader, nil
}

func (s *Store) StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Stat(ctx, bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.ObjectInfo{}, storage.ErrObjectNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, err)
	}
	return info, nil
}

func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return err
	}
	if err := s.client.Delete(ctx, bucket, normalized); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", normalized, err)
	}
	return nil
}

func (s *Store) CreateMultipart(ctx context.Context, bucket, key string, opts storage.PutOptions) (string, error) {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return "", err
	}
	uploadID, err := s.client.NewMultipart(ctx, bucket, normalized, opts.ContentType)
	if err != nil {
		return "", fmt.Errorf("create multipart upload %q: %w", normalized, err)
	}
	return uploadID, nil
}

func (s *Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (string, error) {
	if partNumber < 1 {
		return "", fmt.Errorf("part number must be >= 1, got %d", partNumber)
	}
	etag, err := s.client.PutPart(ctx, bucket, key, uploadID, partNumber, body)
	if err != nil {
		return "", fmt.Errorf("upload part %d of %q: %w", partNumber, key, err)
	}
	return etag, nil
}

func (s *Store) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error) {
	if len(parts) == 0 {
		return storage.ObjectInfo{}, fmt.Errorf("%w: no parts to complete", storage.ErrInvalidParts)
	}
	info, err := s.client.CompleteMultipart(ctx, bucket, key, uploadID, parts)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("complete multipart upload %q: %w", key, err)
	}
	return info, nil
}

func (s *Store) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	if err := s.client.AbortMultipart(ctx, bucket, key, uploadID); err != nil {
		if errors.Is(err, storage.ErrInvalidParts) {
			return nil
		}
		return fmt.Errorf("abort multipart upload %q: %w", key, err)
	}
	return nil
}

func (s *Store) ListIncompleteUploads(ctx context.Context, bucket, prefix string) ([]storage.IncompleteUpload, error) {
	uploads, err := s.client.ListMultipart(ctx, bucket, strings.TrimPrefix(prefix, "/"))
	if err != nil {
		return nil, fmt.Errorf("list multipart uploads %s/%s: %w", bucket, prefix, err)
	}
	return uploads, nil
}

func (s *Store) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration, opts storage.PresignOptions) (string, error) {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("presign ttl must be positive")
	}
	params := url.Values{}
	if opts.ContentType != "" {
		params.Set("response-content-type", opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		params.Set("response-content-disposition", opts.ContentDisposition)
	}
	signed, err := s.client.PresignGet(ctx, bucket, normalized, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign get %q: %w", normalized, err)
	}
	return signed, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.CreateBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func newMinioClient(cfg Config) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	clientImpl, err := minio.New(endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:     secure,
		Region:     strings.TrimSpace(cfg.Region),
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioClient{client: clientImpl, core: &minio.Core{Client: clientImpl}}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

// minioClient uses the high level client for object calls and Core for the
// raw multipart protocol.
type minioClient struct {
	client *minio.Client
	core   *minio.Core
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, mapMinioErr(err)
	}
	return exists, nil
}

func (m *minioClient) CreateBucket(ctx context.Context, bucket, region string) error {
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func (m *minioClient) List(ctx context.Context, bucket, prefix string, maxKeys int) ([]storage.ObjectInfo, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make([]storage.ObjectInfo, 0)
	for obj := range m.client.ListObjects(listCtx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   maxKeys,
	}) {
		if obj.Err != nil {
			return nil, mapMinioErr(obj.Err)
		}
		objects = append(objects, storage.ObjectInfo{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified})
		if maxKeys > 0 && len(objects) >= maxKeys {
			break
		}
	}
	return objects, nil
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (m *minioClient) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	obj, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified}, nil
}

func (m *minioClient) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func (m *minioClient) NewMultipart(ctx context.Context, bucket, key, contentType string) (string, error) {
	uploadID, err := m.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", mapMinioErr(err)
	}
	return uploadID, nil
}

func (m *minioClient) PutPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (string, error) {
	part, err := m.core.PutObjectPart(ctx, bucket, key, uploadID, partNumber, bytes.NewReader(body), int64(len(body)), minio.PutObjectPartOptions{})
	if err != nil {
		return "", mapMinioErr(err)
	}
	return part.ETag, nil
}

func (m *minioClient) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error) {
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, part := range parts {
		completeParts = append(completeParts, minio.CompletePart{PartNumber: part.PartNumber, ETag: part.ETag})
	}
	info, err := m.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

func (m *minioClient) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	if err := m.core.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func (m *minioClient) ListMultipart(ctx context.Context, bucket, prefix string) ([]storage.IncompleteUpload, error) {
	uploads := make([]storage.IncompleteUpload, 0)
	keyMarker, uploadIDMarker := "", ""
	for {
		result, err := m.core.ListMultipartUploads(ctx, bucket, prefix, keyMarker, uploadIDMarker, "", 1000)
		if err != nil {
			return nil, mapMinioErr(err)
		}
		for _, upload := range result.Uploads {
			uploads = append(uploads, storage.IncompleteUpload{Key: upload.Key, UploadID: upload.UploadID, Initiated: upload.Initiated})
		}
		if !result.IsTruncated {
			return uploads, nil
		}
		keyMarker, uploadIDMarker = result.NextKeyMarker, result.NextUploadIDMarker
	}
}

func (m *minioClient) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration, params url.Values) (string, error) {
	signed, err := m.client.PresignedGetObject(ctx, bucket, key, ttl, params)
	if err != nil {
		return "", mapMinioErr(err)
	}
	return signed.String(), nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NotFound":
			return storage.ErrObjectNotFound
		case "NoSuchBucket":
			return storage.ErrBucketNotFound
		case "InvalidPart", "InvalidPartOrder", "EntityTooSmall", "NoSuchUpload":
			return fmt.Errorf("%w: %s", storage.ErrInvalidParts, response.Message)
		}
	}
	return err
}

var _ storage.ObjectStore = (*Store)(nil)
