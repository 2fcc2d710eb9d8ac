package migrations

import (
	"strings"
	"testing"
)

func TestQueryJobMigrationContainsRequiredObjects(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_query_job.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	requiredSnippets := []string{
		"CREATE TYPE lakequery_job_status",
		"CREATE TABLE query_job",
		"request_id TEXT PRIMARY KEY",
		"lease_until TIMESTAMPTZ",
		"CREATE INDEX idx_query_job_pending_created",
		"CREATE INDEX idx_query_job_running_lease",
		"CREATE INDEX idx_query_job_finished",
	}
	for _, snippet := range requiredSnippets {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) == 0 || items[0].Version != 1 {
		t.Fatalf("items = %+v", items)
	}
	if !strings.Contains(items[0].DownSQL, "DROP TABLE IF EXISTS query_job") {
		t.Fatalf("down SQL = %q", items[0].DownSQL)
	}
}
