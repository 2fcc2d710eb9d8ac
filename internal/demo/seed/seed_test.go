package seed

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/lakequery/lakequery/internal/storage"
	"github.com/lakequery/lakequery/internal/upload"
)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	fixedNow := time.Date(2026, 2, 19, 7, 30, 0, 0, time.UTC)

	g1 := NewGenerator(42, 10)
	g2 := NewGenerator(42, 10)
	g1.now = func() time.Time { return fixedNow }
	g2.now = func() time.Time { return fixedNow }

	if b1, b2 := g1.NextBatch(5), g2.NextBatch(5); !reflect.DeepEqual(b1, b2) {
		t.Fatalf("batches differ: %#v vs %#v", b1, b2)
	}
}

func TestGeneratorRowsMatchColumns(t *testing.T) {
	g := NewGenerator(99, 5)
	first := g.NextBatch(3)
	second := g.NextBatch(2)

	for _, row := range append(first.Rows, second.Rows...) {
		if len(row) != len(Columns) {
			t.Fatalf("row width = %d, want %d", len(row), len(Columns))
		}
		if _, ok := row[8].(bool); !ok {
			t.Fatalf("is_mobile type = %T", row[8])
		}
		if _, ok := row[9].(time.Time); !ok {
			t.Fatalf("occurred_at type = %T", row[9])
		}
	}
	if id := second.Rows[1][0].(int64); id != 5 {
		t.Fatalf("last event_id = %d, want 5", id)
	}
}

func TestSeederWritesParquetParts(t *testing.T) {
	uploader := &recordingUploader{objects: map[string][]byte{}}
	seeder := &Seeder{
		Uploads: &upload.Engine{Uploader: uploader},
		Config:  Config{Bucket: "demo", Prefix: "events", Files: 3, RowsPerFile: 20, UserCardinality: 4, Seed: 7},
	}

	summary, err := seeder.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Files != 3 || summary.Rows != 60 || summary.TablePath != "s3://demo/events" {
		t.Fatalf("summary = %+v", summary)
	}

	keys := make([]string, 0, len(uploader.objects))
	for key, body := range uploader.objects {
		keys = append(keys, key)
		if string(body[:4]) != "PAR1" {
			t.Fatalf("%s does not start with the parquet magic", key)
		}
	}
	sort.Strings(keys)
	if fmt.Sprint(keys) != "[demo/events/part-00000.parquet demo/events/part-00001.parquet demo/events/part-00002.parquet]" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestLoadConfig(t *testing.T) {
	values := map[string]string{
		"LAKEQUERY_DEMO_BUCKET":        "lake",
		"LAKEQUERY_DEMO_PREFIX":        "/clicks/",
		"LAKEQUERY_DEMO_FILES":         "2",
		"LAKEQUERY_DEMO_ROWS_PER_FILE": "10",
		"LAKEQUERY_DEMO_SEED":          "11",
	}
	cfg, err := LoadConfig(func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Bucket != "lake" || cfg.Prefix != "clicks" || cfg.Files != 2 || cfg.RowsPerFile != 10 || cfg.Seed != 11 {
		t.Fatalf("cfg = %+v", cfg)
	}

	values["LAKEQUERY_DEMO_FILES"] = "zero"
	if _, err := LoadConfig(func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}); err == nil {
		t.Fatal("expected invalid files error")
	}
}

type recordingUploader struct {
	mu      sync.Mutex
	parts   map[string]map[int][]byte
	objects map[string][]byte
}

func (u *recordingUploader) CreateMultipart(_ context.Context, bucket, key string, _ storage.PutOptions) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.parts == nil {
		u.parts = map[string]map[int][]byte{}
	}
	id := bucket + "/" + key
	u.parts[id] = map[int][]byte{}
	return id, nil
}

func (u *recordingUploader) UploadPart(_ context.Context, _, _, uploadID string, partNumber int, body []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.parts[uploadID][partNumber] = append([]byte(nil), body...)
	return fmt.Sprintf("etag-%d", partNumber), nil
}

func (u *recordingUploader) CompleteMultipart(_ context.Context, _, key, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var body []byte
	for _, part := range parts {
		body = append(body, u.parts[uploadID][part.PartNumber]...)
	}
	u.objects[uploadID] = body
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}
