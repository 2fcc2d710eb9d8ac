package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/lakequery/lakequery/internal/failure"
	"github.com/lakequery/lakequery/internal/query"
	"github.com/lakequery/lakequery/internal/storage"
	"github.com/lakequery/lakequery/internal/tablepath"
)

const DefaultBatchSize = 1024

// Engine executes queries in an embedded DuckDB after staging the parquet
// objects under the table path in a scratch directory.
type Engine struct {
	Store      storage.SourceReader
	ScratchDir string
}

func NewEngine(store storage.SourceReader, scratchDir string) *Engine {
	return &Engine{Store: store, ScratchDir: scratchDir}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Stream, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return nil, fmt.Errorf("sql is required")
	}
	if strings.TrimSpace(request.TableName) == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if e.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	path, err := tablepath.Parse(request.TablePath)
	if err != nil {
		return nil, err
	}
	batchSize := request.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	workDir, err := os.MkdirTemp(e.ScratchDir, "lakequery-exec-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }
	if workDir, err = filepath.Abs(workDir); err != nil {
		cleanup()
		return nil, fmt.Errorf("resolve scratch dir: %w", err)
	}

	localPaths, err := e.stage(ctx, path, request.TableName, workDir)
	if err != nil {
		cleanup()
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// Settings are per database; one connection keeps the view and the
	// locked configuration on the session that runs the query.
	db.SetMaxOpenConns(1)
	fail := func(err error) (query.Stream, error) {
		_ = db.Close()
		cleanup()
		return nil, err
	}

	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s, union_by_name = true)`, quoteIdent(request.TableName), quoteStringArray(localPaths))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return fail(failure.Transport(failure.CodeExecution, fmt.Sprintf("register table %q", request.TableName), err))
	}
	for _, statement := range sandboxStatements(workDir) {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fail(fmt.Errorf("restrict duckdb session: %w", err))
		}
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return fail(failure.Transport(failure.CodeExecution, "execute query", err))
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return fail(failure.Transport(failure.CodeExecution, "query columns", err))
	}

	columns := make([]query.Column, 0, len(columnTypes))
	for _, ct := range columnTypes {
		columns = append(columns, query.Column{Name: ct.Name(), Type: mapColumnType(ct.DatabaseTypeName())})
	}

	return &rowStream{
		db:        db,
		rows:      rows,
		columns:   columns,
		batchSize: batchSize,
		cleanup:   cleanup,
	}, nil
}

// sandboxStatements confine a session to the staged files in workDir. The
// user query cannot read other local paths, reach the network, load
// extensions or undo the settings.
func sandboxStatements(workDir string) []string {
	dir := strings.TrimSuffix(workDir, string(filepath.Separator)) + string(filepath.Separator)
	return []string{
		fmt.Sprintf("SET allowed_directories = [%s]", quoteString(dir)),
		"SET enable_external_access = false",
		"SET autoinstall_known_extensions = false",
		"SET autoload_known_extensions = false",
		"SET lock_configuration = true",
	}
}

// stage downloads every parquet object under path into workDir.
func (e *Engine) stage(ctx context.Context, path tablepath.TablePath, tableName, workDir string) ([]string, error) {
	objects, err := e.Store.ListObjects(ctx, path.Bucket, path.Prefix, 0)
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotFound) {
			return nil, failure.Semantic(failure.CodeTablePathNotFound, fmt.Sprintf("bucket %q does not exist", path.Bucket), err)
		}
		return nil, failure.Transport(failure.CodeObjectStore, fmt.Sprintf("list %s", path), err)
	}

	localPaths := make([]string, 0, len(objects))
	for index, object := range objects {
		if !strings.HasSuffix(strings.ToLower(object.Key), ".parquet") {
			continue
		}
		reader, err := e.Store.GetObject(ctx, path.Bucket, object.Key)
		if err != nil {
			return nil, failure.Transport(failure.CodeObjectStore, fmt.Sprintf("get object %q", object.Key), err)
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(tableName), index))
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("write local parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return nil, failure.Transport(failure.CodeObjectStore, fmt.Sprintf("close object %q", object.Key), err)
		}
		localPaths = append(localPaths, localPath)
	}
	if len(localPaths) == 0 {
		return nil, failure.Semantic(failure.CodeTablePathNotFound, fmt.Sprintf("no parquet objects under %s", path), nil)
	}
	return localPaths, nil
}

type rowStream struct {
	db        *sql.DB
	rows      *sql.Rows
	columns   []query.Column
	batchSize int
	cleanup   func()
	done      bool
}

func (s *rowStream) Columns() []query.Column {
	return s.columns
}

func (s *rowStream) Next(ctx context.Context) (query.Batch, error) {
	if s.done {
		return query.Batch{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return query.Batch{}, err
	}

	batch := query.Batch{Rows: make([][]any, 0, s.batchSize)}
	for len(batch.Rows) < s.batchSize && s.rows.Next() {
		values := make([]any, len(s.columns))
		scanTargets := make([]any, len(s.columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := s.rows.Scan(scanTargets...); err != nil {
			return query.Batch{}, fmt.Errorf("scan row: %w", err)
		}
		batch.Rows = append(batch.Rows, normalizeValues(s.columns, values))
	}
	if len(batch.Rows) < s.batchSize {
		s.done = true
		if err := s.rows.Err(); err != nil {
			return query.Batch{}, fmt.Errorf("iterate rows: %w", err)
		}
		if len(batch.Rows) == 0 {
			return query.Batch{}, io.EOF
		}
	}
	return batch, nil
}

func (s *rowStream) Close() error {
	rowsErr := s.rows.Close()
	dbErr := s.db.Close()
	s.cleanup()
	return errors.Join(rowsErr, dbErr)
}

func mapColumnType(databaseType string) query.ColumnType {
	upper := strings.ToUpper(databaseType)
	switch {
	case upper == "BOOLEAN":
		return query.TypeBool
	case upper == "TINYINT", upper == "SMALLINT", upper == "INTEGER", upper == "BIGINT",
		upper == "UTINYINT", upper == "USMALLINT", upper == "UINTEGER":
		return query.TypeInt64
	case upper == "FLOAT", upper == "DOUBLE":
		return query.TypeFloat64
	// Kept as exact decimal text; neither fits float64 or int64 without loss.
	case strings.HasPrefix(upper, "DECIMAL"), upper == "UBIGINT", upper == "HUGEINT", upper == "UHUGEINT":
		return query.TypeString
	case upper == "DATE", strings.HasPrefix(upper, "TIMESTAMP"):
		return query.TypeTimestamp
	case upper == "BLOB":
		return query.TypeBytes
	default:
		return query.TypeString
	}
}

// normalizeValues converts driver values to the Go type of their column.
func normalizeValues(columns []query.Column, values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		if value == nil {
			continue
		}
		normalized[i] = normalizeValue(columns[i].Type, value)
	}
	return normalized
}

func normalizeValue(columnType query.ColumnType, value any) any {
	switch columnType {
	case query.TypeInt64:
		switch v := value.(type) {
		case int8:
			return int64(v)
		case int16:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case uint8:
			return int64(v)
		case uint16:
			return int64(v)
		case uint32:
			return int64(v)
		}
	case query.TypeFloat64:
		switch v := value.(type) {
		case float32:
			return float64(v)
		case float64:
			return v
		}
	case query.TypeTimestamp:
		if v, ok := value.(time.Time); ok {
			return v
		}
	case query.TypeBool:
		if v, ok := value.(bool); ok {
			return v
		}
	case query.TypeBytes:
		if v, ok := value.([]byte); ok {
			return v
		}
	case query.TypeString:
		switch v := value.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case goduckdb.Decimal:
			return formatDecimal(v)
		case uint64:
			return strconv.FormatUint(v, 10)
		case *big.Int:
			return v.String()
		case fmt.Stringer:
			return v.String()
		}
	}
	return fmt.Sprint(value)
}

// formatDecimal renders the unscaled value with Scale fractional digits.
func formatDecimal(d goduckdb.Decimal) string {
	if d.Value == nil {
		return "0"
	}
	digits := new(big.Int).Abs(d.Value).String()
	if scale := int(d.Scale); scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if d.Value.Sign() < 0 {
		return "-" + digits
	}
	return digits
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
