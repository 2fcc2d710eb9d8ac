package storage

import "testing"

func TestBuildResultKey(t *testing.T) {
	key, err := BuildResultKey("/dev/data-lake/result/", "3f2a9c1e-1d2b-4c5d-8e9f-001122334455", ExtParquet)
	if err != nil {
		t.Fatalf("BuildResultKey() error = %v", err)
	}
	want := "dev/data-lake/result/3f2a9c1e-1d2b-4c5d-8e9f-001122334455.parquet"
	if key != want {
		t.Fatalf("BuildResultKey() = %q, want %q", key, want)
	}
}

func TestBuildResultKeyWithoutPrefix(t *testing.T) {
	key, err := BuildResultKey("", "req-1", ExtJSON)
	if err != nil {
		t.Fatalf("BuildResultKey() error = %v", err)
	}
	if key != "req-1.json" {
		t.Fatalf("BuildResultKey() = %q", key)
	}
}

func TestBuildResultKeyRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildResultKey("results", "../oops", ExtParquet); err == nil {
		t.Fatal("expected invalid request id error")
	}
	if _, err := BuildResultKey("results", "req-1", "csv"); err == nil {
		t.Fatal("expected unsupported extension error")
	}
}

func TestValidateKey(t *testing.T) {
	cases := map[string]bool{
		"results/a.parquet":  true,
		"/results/a.parquet": true,
		"":                   false,
		"../secrets.txt":     false,
		"a/../../b":          false,
	}
	for key, ok := range cases {
		_, err := ValidateKey(key)
		if ok && err != nil {
			t.Fatalf("ValidateKey(%q) error = %v", key, err)
		}
		if !ok && err == nil {
			t.Fatalf("ValidateKey(%q) expected error", key)
		}
	}
}
