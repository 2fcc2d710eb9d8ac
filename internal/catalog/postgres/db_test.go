package postgres

import (
	"context"
	"testing"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestOpenRejectsMalformedDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{DSN: "postgres://%zz"})
	if err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}
