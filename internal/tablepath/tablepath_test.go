package tablepath

import (
	"context"
	"errors"
	"testing"

	"github.com/lakequery/lakequery/internal/failure"
	"github.com/lakequery/lakequery/internal/storage"
)

func TestParseQuotedPathWithPrefix(t *testing.T) {
	path, err := Parse("'s3://bucket/path-to-data/'")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if path.Bucket != "bucket" || path.Prefix != "path-to-data" {
		t.Fatalf("path = %+v", path)
	}
	if path.String() != "s3://bucket/path-to-data/" {
		t.Fatalf("String() = %q", path.String())
	}
	name, err := path.TableName()
	if err != nil {
		t.Fatalf("TableName() error = %v", err)
	}
	if name != "path-to-data" {
		t.Fatalf("TableName() = %q, want path-to-data", name)
	}
}

func TestParseBucketOnlyFallsBackToBucketName(t *testing.T) {
	for _, raw := range []string{"s3://bucket", "s3://bucket/", ` "s3://bucket" `} {
		path, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", raw, err)
		}
		if path.HasPrefix() {
			t.Fatalf("Parse(%q) prefix = %q, want none", raw, path.Prefix)
		}
		name, err := path.TableName()
		if err != nil {
			t.Fatalf("TableName() error = %v", err)
		}
		if name != "bucket" {
			t.Fatalf("TableName() = %q, want bucket", name)
		}
	}
}

func TestTableNameUsesLastSegment(t *testing.T) {
	path, err := Parse("s3://bucket/dev/data-lake/images/")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	name, err := path.TableName()
	if err != nil {
		t.Fatalf("TableName() error = %v", err)
	}
	if name != "images" {
		t.Fatalf("TableName() = %q, want images", name)
	}
}

func TestParseFailures(t *testing.T) {
	cases := map[string]string{
		"s3://":             failure.CodeMissingBucket,
		"s3:/":              failure.CodeMissingBucket,
		"s3:":               failure.CodeMissingBucket,
		"gs://bucket/data":  failure.CodeInvalidScheme,
		"https://bucket/x":  failure.CodeInvalidScheme,
		"bucket/path":       failure.CodeURIParse,
		"":                  failure.CodeURIParse,
		"''":                failure.CodeURIParse,
		"s3://bucket/%zz":   failure.CodeURIParse,
		"://missing-scheme": failure.CodeURIParse,
	}
	for raw, wantCode := range cases {
		_, err := Parse(raw)
		if err == nil {
			t.Fatalf("Parse(%q) expected error", raw)
		}
		if got := failure.CodeOf(err); got != wantCode {
			t.Fatalf("Parse(%q) code = %q, want %q", raw, got, wantCode)
		}
		if failure.KindOf(err) != failure.KindParse {
			t.Fatalf("Parse(%q) kind = %q, want parse", raw, failure.KindOf(err))
		}
	}
}

func TestValidateExistence(t *testing.T) {
	withPrefix, _ := Parse("s3://data/images")
	bucketOnly, _ := Parse("s3://data")

	cases := []struct {
		name   string
		path   TablePath
		prober *fakeProber
		want   bool
	}{
		{name: "missing bucket", path: withPrefix, prober: &fakeProber{}, want: false},
		{name: "bucket only", path: bucketOnly, prober: &fakeProber{bucket: true}, want: true},
		{name: "empty prefix", path: withPrefix, prober: &fakeProber{bucket: true}, want: false},
		{name: "prefix has objects", path: withPrefix, prober: &fakeProber{bucket: true, objects: []storage.ObjectInfo{{Key: "images/a.parquet"}}}, want: true},
	}
	for _, tc := range cases {
		got, err := ValidateExistence(context.Background(), tc.path, tc.prober)
		if err != nil {
			t.Fatalf("%s: ValidateExistence() error = %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: ValidateExistence() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidateExistenceListsWithSingleKeyUnderPrefix(t *testing.T) {
	path, _ := Parse("s3://data/dev/images/")
	prober := &fakeProber{bucket: true, objects: []storage.ObjectInfo{{Key: "dev/images/1.parquet"}}}
	if _, err := ValidateExistence(context.Background(), path, prober); err != nil {
		t.Fatalf("ValidateExistence() error = %v", err)
	}
	if prober.listPrefix != "dev/images" || prober.listMax != 1 {
		t.Fatalf("list prefix/max = %q/%d", prober.listPrefix, prober.listMax)
	}
}

func TestValidateExistenceReturnsTransportFailure(t *testing.T) {
	path, _ := Parse("s3://data/images")

	_, err := ValidateExistence(context.Background(), path, &fakeProber{headErr: errors.New("dial tcp: i/o timeout")})
	if failure.KindOf(err) != failure.KindTransport {
		t.Fatalf("head error kind = %q, want transport", failure.KindOf(err))
	}

	_, err = ValidateExistence(context.Background(), path, &fakeProber{bucket: true, listErr: errors.New("503 slow down")})
	if failure.KindOf(err) != failure.KindTransport {
		t.Fatalf("list error kind = %q, want transport", failure.KindOf(err))
	}
}

type fakeProber struct {
	bucket     bool
	headErr    error
	objects    []storage.ObjectInfo
	listErr    error
	listPrefix string
	listMax    int
}

func (f *fakeProber) BucketExists(context.Context, string) (bool, error) {
	return f.bucket, f.headErr
}

func (f *fakeProber) ListObjects(_ context.Context, _, prefix string, maxKeys int) ([]storage.ObjectInfo, error) {
	f.listPrefix = prefix
	f.listMax = maxKeys
	return f.objects, f.listErr
}
