package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lakequery/lakequery/internal/failure"
)

// SyntaxChecker parses queries with DuckDB's own parser. Queries are
// serialized, never bound or executed, so tables need not exist.
type SyntaxChecker struct {
	db *sql.DB
}

type serializedSQL struct {
	Error        bool              `json:"error"`
	ErrorType    string            `json:"error_type"`
	ErrorMessage string            `json:"error_message"`
	Statements   []json.RawMessage `json:"statements"`
}

func NewSyntaxChecker(ctx context.Context) (*SyntaxChecker, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	checker := &SyntaxChecker{db: db}

	// The first call loads the json functions before extension loading is
	// switched off.
	if err := checker.CheckSyntax(ctx, "SELECT 1"); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, statement := range []string{
		"SET enable_external_access = false",
		"SET autoinstall_known_extensions = false",
		"SET autoload_known_extensions = false",
		"SET lock_configuration = true",
	} {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("restrict duckdb session: %w", err)
		}
	}
	return checker, nil
}

// CheckSyntax returns a parse failure carrying DuckDB's message when query
// is not exactly one valid SELECT statement.
func (c *SyntaxChecker) CheckSyntax(ctx context.Context, query string) error {
	var raw string
	if err := c.db.QueryRowContext(ctx, "SELECT CAST(json_serialize_sql(?::VARCHAR) AS VARCHAR)", query).Scan(&raw); err != nil {
		return fmt.Errorf("serialize sql: %w", err)
	}
	var result serializedSQL
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fmt.Errorf("decode serialized sql: %w", err)
	}
	if result.Error {
		return failure.Parse(failure.CodeSQLParse, result.ErrorMessage, nil)
	}
	if len(result.Statements) != 1 {
		return failure.Parse(failure.CodeSQLParse, fmt.Sprintf("expected one statement, found %d", len(result.Statements)), nil)
	}
	return nil
}

func (c *SyntaxChecker) Close() error {
	return c.db.Close()
}
