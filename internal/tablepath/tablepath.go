// Package tablepath parses object-store URIs of the form s3://bucket/prefix
// that address tabular data, derives the logical table name the executor
// registers them under and probes whether they exist.
package tablepath

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lakequery/lakequery/internal/failure"
	"github.com/lakequery/lakequery/internal/storage"
)

const Scheme = "s3"

// TablePath is a validated object-store location. Prefix is empty when the
// URI addresses a whole bucket and otherwise has no leading or trailing
// slash.
type TablePath struct {
	URI    string
	Bucket string
	Prefix string
}

// Parse trims surrounding quotes and whitespace from raw and validates it as
// an s3:// URI.
func Parse(raw string) (TablePath, error) {
	trimmed := trimQuotes(raw)
	if trimmed == "" {
		return TablePath{}, failure.Parse(failure.CodeURIParse, "table path is empty", nil)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return TablePath{}, failure.Parse(failure.CodeURIParse, fmt.Sprintf("invalid table path %q", trimmed), err)
	}
	if parsed.Scheme == "" {
		return TablePath{}, failure.Parse(failure.CodeURIParse, fmt.Sprintf("table path %q has no scheme", trimmed), nil)
	}
	if !strings.EqualFold(parsed.Scheme, Scheme) {
		return TablePath{}, failure.Parse(failure.CodeInvalidScheme, fmt.Sprintf("unsupported scheme %q, expected %s://", parsed.Scheme, Scheme), nil)
	}
	if parsed.Host == "" {
		return TablePath{}, failure.Parse(failure.CodeMissingBucket, fmt.Sprintf("table path %q has no bucket", trimmed), nil)
	}

	return TablePath{
		URI:    trimmed,
		Bucket: parsed.Host,
		Prefix: strings.Trim(parsed.Path, "/"),
	}, nil
}

func (p TablePath) String() string {
	return p.URI
}

func (p TablePath) HasPrefix() bool {
	return p.Prefix != ""
}

// TableName returns the last segment of the prefix, or the bucket when the
// path has no prefix.
func (p TablePath) TableName() (string, error) {
	if !p.HasPrefix() {
		return p.Bucket, nil
	}
	segments := strings.Split(strings.Trim(p.Prefix, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segment := strings.TrimSpace(segments[i]); segment != "" {
			return segment, nil
		}
	}
	return "", failure.Semantic(failure.CodeMissingTableName, fmt.Sprintf("cannot derive a table name from %q", p.URI), nil)
}

// ValidateExistence reports whether the bucket exists and, when a prefix is
// set, whether at least one object lives under it. Object-store faults are
// returned as transport failures rather than false.
func ValidateExistence(ctx context.Context, p TablePath, prober storage.Prober) (bool, error) {
	if prober == nil {
		return false, errors.New("object store prober is required")
	}
	exists, err := prober.BucketExists(ctx, p.Bucket)
	if err != nil {
		return false, failure.Transport(failure.CodeObjectStore, fmt.Sprintf("check bucket %q", p.Bucket), err)
	}
	if !exists {
		return false, nil
	}
	if !p.HasPrefix() {
		return true, nil
	}

	objects, err := prober.ListObjects(ctx, p.Bucket, p.Prefix, 1)
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotFound) {
			return false, nil
		}
		return false, failure.Transport(failure.CodeObjectStore, fmt.Sprintf("list %s", p.URI), err)
	}
	return len(objects) > 0, nil
}

func trimQuotes(raw string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `'"`))
}
