// Package materialize drains an executor stream into in-memory parquet and
// newline-delimited JSON buffers ready for upload.
package materialize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/lakequery/lakequery/internal/failure"
	"github.com/lakequery/lakequery/internal/query"
)

const (
	ContentTypeParquet = "application/parquet"
	ContentTypeJSON    = "application/json"
)

type Output struct {
	Parquet []byte
	JSON    []byte
	Rows    int64
	Batches int
}

// Drain reads stream to completion and returns both encodings. The parquet
// writer is closed, and its footer written, before Drain returns. The caller
// still owns stream and must close it.
func Drain(ctx context.Context, stream query.Stream) (Output, error) {
	if stream == nil {
		return Output{}, errors.New("stream is required")
	}
	columns := stream.Columns()
	if len(columns) == 0 {
		return Output{}, failure.Transport(failure.CodeExecution, "result has no columns", nil)
	}

	enc := newLayout(columns)
	parquetBuf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(parquetBuf, enc.schema, parquet.Compression(&parquet.Snappy))
	jsonBuf := bytes.NewBuffer(nil)

	var out Output
	for {
		batch, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Output{}, failure.Transport(failure.CodeExecution, "read result batch", err)
		}
		out.Batches++

		rows := make([]parquet.Row, 0, len(batch.Rows))
		for _, values := range batch.Rows {
			row, err := enc.parquetRow(values)
			if err != nil {
				return Output{}, failure.Transport(failure.CodeExecution, fmt.Sprintf("encode row %d", out.Rows+1), err)
			}
			rows = append(rows, row)
			if err := writeJSONLine(jsonBuf, enc.names, values); err != nil {
				return Output{}, failure.Transport(failure.CodeExecution, fmt.Sprintf("encode row %d", out.Rows+1), err)
			}
			out.Rows++
		}
		if _, err := writer.WriteRows(rows); err != nil {
			return Output{}, failure.Transport(failure.CodeExecution, "write parquet rows", err)
		}
	}

	if err := writer.Close(); err != nil {
		return Output{}, failure.Transport(failure.CodeExecution, "close parquet writer", err)
	}
	out.Parquet = parquetBuf.Bytes()
	out.JSON = jsonBuf.Bytes()
	return out, nil
}

// layout maps result columns onto parquet leaf columns. Group fields are
// ordered by name, so each result column keeps the index of its leaf.
type layout struct {
	schema  *parquet.Schema
	names   []string
	types   []query.ColumnType
	leafIdx []int
}

func newLayout(columns []query.Column) layout {
	names := FieldNames(columns)
	group := parquet.Group{}
	for i, column := range columns {
		group[names[i]] = parquet.Optional(leafNode(column.Type))
	}
	schema := parquet.NewSchema("result", group)

	positions := map[string]int{}
	for i, field := range schema.Fields() {
		positions[field.Name()] = i
	}
	l := layout{schema: schema, names: names, types: make([]query.ColumnType, len(columns)), leafIdx: make([]int, len(columns))}
	for i, column := range columns {
		l.types[i] = column.Type
		l.leafIdx[i] = positions[names[i]]
	}
	return l
}

func leafNode(columnType query.ColumnType) parquet.Node {
	switch columnType {
	case query.TypeBool:
		return parquet.Leaf(parquet.BooleanType)
	case query.TypeInt64:
		return parquet.Int(64)
	case query.TypeFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case query.TypeTimestamp:
		return parquet.Timestamp(parquet.Microsecond)
	case query.TypeBytes:
		return parquet.Leaf(parquet.ByteArrayType)
	default:
		return parquet.String()
	}
}

func (l layout) parquetRow(values []any) (parquet.Row, error) {
	if len(values) != len(l.types) {
		return nil, fmt.Errorf("row has %d values, want %d", len(values), len(l.types))
	}
	row := make(parquet.Row, len(values))
	for i, value := range values {
		leaf := l.leafIdx[i]
		if value == nil {
			row[leaf] = parquet.NullValue().Level(0, 0, leaf)
			continue
		}
		pv, err := parquetValue(l.types[i], value)
		if err != nil {
			return nil, err
		}
		row[leaf] = pv.Level(0, 1, leaf)
	}
	return row, nil
}

func parquetValue(columnType query.ColumnType, value any) (parquet.Value, error) {
	switch columnType {
	case query.TypeBool:
		if v, ok := value.(bool); ok {
			return parquet.BooleanValue(v), nil
		}
	case query.TypeInt64:
		if v, ok := value.(int64); ok {
			return parquet.Int64Value(v), nil
		}
	case query.TypeFloat64:
		if v, ok := value.(float64); ok {
			return parquet.DoubleValue(v), nil
		}
	case query.TypeTimestamp:
		if v, ok := value.(time.Time); ok {
			return parquet.Int64Value(v.UTC().UnixMicro()), nil
		}
	case query.TypeBytes:
		if v, ok := value.([]byte); ok {
			return parquet.ByteArrayValue(v), nil
		}
	default:
		if v, ok := value.(string); ok {
			return parquet.ByteArrayValue([]byte(v)), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("value %T does not match column type %s", value, columnType)
}

// FieldNames returns unique, non-empty output field names for columns.
// Repeated names get a numeric suffix.
func FieldNames(columns []query.Column) []string {
	names := make([]string, len(columns))
	seen := map[string]int{}
	for i, column := range columns {
		name := column.Name
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		base := name
		for seen[name] > 0 {
			seen[base]++
			name = base + "_" + strconv.Itoa(seen[base])
		}
		seen[name]++
		names[i] = name
	}
	return names
}

// writeJSONLine writes one object per row with keys in column order.
func writeJSONLine(buf *bytes.Buffer, names []string, values []any) error {
	buf.WriteByte('{')
	for i, value := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(names[i])
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')

		encoded, err := json.Marshal(jsonValue(value))
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	buf.WriteString("}\n")
	return nil
}

func jsonValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	default:
		return v
	}
}
