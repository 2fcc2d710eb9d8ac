// Package query defines the contract between the request pipeline and the
// execution engine: a rewritten SQL statement goes in, a lazy stream of typed
// record batches comes out.
package query

import (
	"context"
	"errors"
	"io"
)

type ColumnType string

const (
	TypeBool      ColumnType = "bool"
	TypeInt64     ColumnType = "int64"
	TypeFloat64   ColumnType = "float64"
	TypeString    ColumnType = "string"
	TypeTimestamp ColumnType = "timestamp"
	TypeBytes     ColumnType = "bytes"
)

type Column struct {
	Name string
	Type ColumnType
}

// Batch holds rows whose values are nil or the Go type matching their
// column: bool, int64, float64, string, time.Time or []byte.
type Batch struct {
	Rows [][]any
}

type Request struct {
	SQL string
	// TableName is the logical name the table path is registered under.
	TableName string
	// TablePath is the s3:// location backing TableName.
	TablePath string
	BatchSize int
}

// Stream is a finite, non-restartable sequence of batches. Next returns
// io.EOF once the sequence is exhausted and may fail mid-stream.
type Stream interface {
	Columns() []Column
	Next(ctx context.Context) (Batch, error)
	Close() error
}

type Executor interface {
	Execute(ctx context.Context, request Request) (Stream, error)
}

// MemoryStream replays prepared batches. Err, when set, is returned after the
// last batch instead of io.EOF.
type MemoryStream struct {
	Cols    []Column
	Batches []Batch
	Err     error

	next   int
	closed bool
}

func NewMemoryStream(columns []Column, batches ...Batch) *MemoryStream {
	return &MemoryStream{Cols: columns, Batches: batches}
}

func (s *MemoryStream) Columns() []Column {
	return s.Cols
}

func (s *MemoryStream) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if s.closed {
		return Batch{}, errors.New("stream is closed")
	}
	if s.next >= len(s.Batches) {
		if s.Err != nil {
			return Batch{}, s.Err
		}
		return Batch{}, io.EOF
	}
	batch := s.Batches[s.next]
	s.next++
	return batch, nil
}

func (s *MemoryStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MemoryStream) Closed() bool {
	return s.closed
}
