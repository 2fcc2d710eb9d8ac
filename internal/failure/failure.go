// Package failure classifies request and job errors into the four kinds the
// service reports to clients: parse, semantic, transport and integrity.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindParse     Kind = "parse"
	KindSemantic  Kind = "semantic"
	KindTransport Kind = "transport"
	KindIntegrity Kind = "integrity"
)

const (
	CodeURIParse             = "URI_PARSE_ERROR"
	CodeInvalidScheme        = "INVALID_SCHEME"
	CodeMissingBucket        = "MISSING_BUCKET"
	CodeMissingTableName     = "MISSING_TABLE_NAME"
	CodeSQLParse             = "SQL_PARSE_ERROR"
	CodeUnsupportedQueryType = "UNSUPPORTED_QUERY_TYPE"
	CodeSelectQueryNotFound  = "SELECT_QUERY_NOT_FOUND"
	CodeInvalidTableName     = "INVALID_TABLE_NAME"
	CodeTablePathRequired    = "TABLE_PATH_REQUIRED"
	CodeTablePathNotFound    = "TABLE_PATH_NOT_FOUND"
	CodeObjectStore          = "OBJECT_STORE_ERROR"
	CodeExecution            = "EXECUTION_FAILED"
	CodeUploadPart           = "UPLOAD_PART_FAILED"
	CodeCompleteUpload       = "COMPLETE_UPLOAD_FAILED"
	CodeInvalidParts         = "INVALID_PARTS"
)

// Error carries a kind, a stable code for clients and the underlying cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same kind and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return false
}

// Retryable reports whether resubmitting the same request could succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport
}

func Parse(code, message string, cause error) *Error {
	return &Error{Kind: KindParse, Code: code, Message: message, Cause: cause}
}

func Semantic(code, message string, cause error) *Error {
	return &Error{Kind: KindSemantic, Code: code, Message: message, Cause: cause}
}

func Transport(code, message string, cause error) *Error {
	return &Error{Kind: KindTransport, Code: code, Message: message, Cause: cause}
}

func Integrity(code, message string, cause error) *Error {
	return &Error{Kind: KindIntegrity, Code: code, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in the chain. Unclassified
// errors are reported as transport failures.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

// CodeOf returns the code of the first *Error in the chain, or "" if none.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsUserError reports whether err was caused by the request itself.
func IsUserError(err error) bool {
	switch KindOf(err) {
	case KindParse, KindSemantic:
		return true
	default:
		return false
	}
}
