package sqlprep

import "testing"

func TestReplaceTableName(t *testing.T) {
	tests := []struct {
		query string
		name  string
		want  string
	}{
		{"select * from 's3://bucket/path/images/'", "images", "select * from images"},
		{"select * from foo", "images", "select * from foo"},
		{"SELECT * FROM 's3://bucket/path/images/' LIMIT 1000", "images", "SELECT * FROM images LIMIT 1000"},
		{`SELECT * FROM "s3://bucket/events" WHERE kind = 'x'`, "events", "SELECT * FROM events WHERE kind = 'x'"},
		{"SELECT * FROM s3://bucket/events", "events", "events"},
		{"SELECT * FROM 's3://bucket/events", "events", "SELECT * FROM events"},
	}
	for _, tt := range tests {
		if got := ReplaceTableName(tt.query, tt.name); got != tt.want {
			t.Fatalf("ReplaceTableName(%q, %q) = %q, want %q", tt.query, tt.name, got, tt.want)
		}
	}
}
