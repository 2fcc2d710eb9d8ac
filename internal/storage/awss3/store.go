// Package awss3 implements storage.ObjectStore with the AWS SDK for Go v2.
// It is selected with LAKEQUERY_OBJECTSTORE_BACKEND=aws and uses the default
// AWS credential chain unless static keys are configured.
package awss3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/lakequery/lakequery/internal/storage"
)

type Config struct {
	Region          string
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	MaxRetries      int
}

// api is the subset of *s3.Client the store calls.
type api interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Store struct {
	api     api
	presign presigner
	bucket  string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.MaxRetries > 0 {
		maxAttempts := cfg.MaxRetries + 1
		opts = append(opts, awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), maxAttempts)
		}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Store{api: client, presign: s3.NewPresignClient(client), bucket: strings.TrimSpace(cfg.Bucket)}, nil
}

func newWithAPI(bucket string, a api, p presigner) *Store {
	return &Store{api: a, presign: p, bucket: bucket}
}

func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if strings.TrimSpace(bucket) == "" {
		return false, fmt.Errorf("bucket is required")
	}
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) || errorCode(err) == "NoSuchBucket" || errorCode(err) == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("head bucket %q: %w", bucket, err)
	}
	return true, nil
}

func (s *Store) ListObjects(ctx context.Context, bucket, prefix string, maxKeys int) ([]storage.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(strings.TrimPrefix(prefix, "/")),
	}
	if maxKeys > 0 {
		input.MaxKeys = aws.Int32(int32(maxKeys))
	}

	objects := make([]storage.ObjectInfo, 0)
	paginator := s3.NewListObjectsV2Paginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, mapErr(err))
		}
		for _, obj := range page.Contents {
			objects = append(objects, storage.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
			if maxKeys > 0 && len(objects) >= maxKeys {
				return objects, nil
			}
		}
	}
	return objects, nil
}

func (s *Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(normalized)})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", normalized, mapErr(err))
	}
	return out.Body, nil
}

func (s *Store) StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(normalized)})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, mapErr(err))
	}
	return storage.ObjectInfo{
		Key:          normalized,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return err
	}
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(normalized)}); err != nil {
		mapped := mapErr(err)
		if errors.Is(mapped, storage.ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", normalized, mapped)
	}
	return nil
}

func (s *Store) CreateMultipart(ctx context.Context, bucket, key string, opts storage.PutOptions) (string, error) {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return "", err
	}
	input := &s3.CreateMultipartUploadInput{Bucket: aws.String(bucket), Key: aws.String(normalized)}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	out, err := s.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("create multipart upload %q: %w", normalized, mapErr(err))
	}
	return aws.ToString(out.UploadId), nil
}

func (s *Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (string, error) {
	if partNumber < 1 {
		return "", fmt.Errorf("part number must be >= 1, got %d", partNumber)
	}
	out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d of %q: %w", partNumber, key, mapErr(err))
	}
	return aws.ToString(out.ETag), nil
}

func (s *Store) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error) {
	if len(parts) == 0 {
		return storage.ObjectInfo{}, fmt.Errorf("%w: no parts to complete", storage.ErrInvalidParts)
	}
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.PartNumber)),
		})
	}
	out, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("complete multipart upload %q: %w", key, mapErr(err))
	}
	return storage.ObjectInfo{Key: key, ETag: aws.ToString(out.ETag)}, nil
}

func (s *Store) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		mapped := mapErr(err)
		if errors.Is(mapped, storage.ErrInvalidParts) {
			return nil
		}
		return fmt.Errorf("abort multipart upload %q: %w", key, mapped)
	}
	return nil
}

func (s *Store) ListIncompleteUploads(ctx context.Context, bucket, prefix string) ([]storage.IncompleteUpload, error) {
	uploads := make([]storage.IncompleteUpload, 0)
	input := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(strings.TrimPrefix(prefix, "/")),
	}
	for {
		out, err := s.api.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list multipart uploads %s/%s: %w", bucket, prefix, mapErr(err))
		}
		for _, upload := range out.Uploads {
			uploads = append(uploads, storage.IncompleteUpload{
				Key:       aws.ToString(upload.Key),
				UploadID:  aws.ToString(upload.UploadId),
				Initiated: aws.ToTime(upload.Initiated),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			return uploads, nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}
}

func (s *Store) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration, opts storage.PresignOptions) (string, error) {
	normalized, err := storage.ValidateKey(key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("presign ttl must be positive")
	}
	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(normalized)}
	if opts.ContentType != "" {
		input.ResponseContentType = aws.String(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		input.ResponseContentDisposition = aws.String(opts.ContentDisposition)
	}
	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %q: %w", normalized, err)
	}
	return req.URL, nil
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return storage.ErrObjectNotFound
	}
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return fmt.Errorf("%w: %v", storage.ErrInvalidParts, err)
	}
	switch errorCode(err) {
	case "NoSuchKey", "NotFound":
		return storage.ErrObjectNotFound
	case "NoSuchBucket":
		return storage.ErrBucketNotFound
	case "InvalidPart", "InvalidPartOrder", "EntityTooSmall", "NoSuchUpload":
		return fmt.Errorf("%w: %v", storage.ErrInvalidParts, err)
	}
	return err
}

var _ storage.ObjectStore = (*Store)(nil)
