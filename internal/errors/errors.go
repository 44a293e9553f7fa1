// Package errors provides the categorized error type used by the ingest
// pipeline. Every error carries a category, a code and a retryable flag so
// callers can decide between retrying, rejecting and reporting.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies an error by how callers must react to it.
type Category string

const (
	CategoryValidation     Category = "VALIDATION"
	CategoryTransientStore Category = "TRANSIENT_STORE"
	CategoryFatalStore     Category = "FATAL_STORE"
	CategoryTransport      Category = "TRANSPORT"
	CategoryConflict       Category = "CONFLICT"
	CategoryNotFound       Category = "NOT_FOUND"
	CategoryInternal       Category = "INTERNAL"
)

const (
	// Validation codes
	CodeInvalidPayload    = "INVALID_PAYLOAD"
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"
	CodeMissingPrimaryKey = "MISSING_PRIMARY_KEY"
	CodeRowWidth          = "ROW_WIDTH_MISMATCH"

	// Store codes
	CodeRelationNotFound = "RELATION_NOT_FOUND"
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"
	CodeExecutionFailed  = "EXECUTION_FAILED"
	CodeStatementTimeout = "STATEMENT_TIMEOUT"

	// Conflict codes
	CodeSchemaConflict = "SCHEMA_CONFLICT"
	CodeDuplicateTable = "DUPLICATE_TABLE"
	CodeDuplicateKey   = "DUPLICATE_KEY"

	// Transport codes
	CodePublishFailed = "PUBLISH_FAILED"
	CodeConsumeFailed = "CONSUME_FAILED"
	CodeChannelClosed = "CHANNEL_CLOSED"
	CodeDecodeFailed  = "DECODE_FAILED"
	CodeNotifyFailed  = "NOTIFY_FAILED"

	// Not found codes
	CodeTableNotFound        = "TABLE_NOT_FOUND"
	CodeRowNotFound          = "ROW_NOT_FOUND"
	CodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"

	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type shared by the pipeline packages.
type Error struct {
	Category  Category
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on category and code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

func New(category Category, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

func Newf(category Category, code, format string, args ...interface{}) *Error {
	return New(category, code, fmt.Sprintf(format, args...))
}

func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// Sentinels for errors.Is checks.
var (
	ErrRelationNotFound = New(CategoryTransientStore, CodeRelationNotFound, "relation does not exist")
	ErrRetriesExhausted = New(CategoryTransientStore, CodeRetriesExhausted, "insert failed after retries")
	ErrSchemaConflict   = New(CategoryConflict, CodeSchemaConflict, "concurrent schema change")
	ErrDuplicateTable   = New(CategoryConflict, CodeDuplicateTable, "table already exists")
	ErrNoPrimaryKey     = New(CategoryValidation, CodeMissingPrimaryKey, "at least one primary key is required for upsert")
)

// IsRetryable reports whether err (or its chain) may succeed on a retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCategory returns the category of err, or "" when err is not an *Error.
func GetCategory(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode returns the code of err, or "" when err is not an *Error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func isRetryable(category Category, code string) bool {
	return category == CategoryTransientStore && code == CodeRelationNotFound
}
