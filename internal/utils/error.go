package utils

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "dynamic-table/internal/errors"
)

// Error codes with HTTP status mapping
const (
	// General errors
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationFailed   = "VALIDATION_ERROR"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"

	// Pipeline errors
	ErrCodeDatabaseError    = "DATABASE_ERROR"
	ErrCodeQueryTimeout     = "QUERY_TIMEOUT"
	ErrCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrCodeSchemaConflict   = "SCHEMA_CONFLICT"
	ErrCodeQueueUnavailable = "QUEUE_UNAVAILABLE"

	// Table errors
	ErrCodeTableNotFound        = "TABLE_NOT_FOUND"
	ErrCodeRowNotFound          = "ROW_NOT_FOUND"
	ErrCodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	ErrCodeInvalidIdentifier    = "INVALID_IDENTIFIER"
	ErrCodeMissingPrimaryKey    = "MISSING_PRIMARY_KEY"

	// Authentication errors
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	ErrCodeInvalidToken = "INVALID_TOKEN"

	ErrCodeInvalidJSON       = "INVALID_JSON"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
)

// HTTPStatus maps error codes to HTTP status codes
var HTTPStatus = map[string]int{
	ErrCodeInvalidRequest:     http.StatusBadRequest,
	ErrCodeValidationFailed:   http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeInternalError:      http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeRateLimitExceeded:  http.StatusTooManyRequests,

	ErrCodeDatabaseError:    http.StatusInternalServerError,
	ErrCodeQueryTimeout:     http.StatusInternalServerError,
	ErrCodeRetriesExhausted: http.StatusInternalServerError,
	ErrCodeSchemaConflict:   http.StatusConflict,
	ErrCodeQueueUnavailable: http.StatusInternalServerError,

	ErrCodeTableNotFound:        http.StatusNotFound,
	ErrCodeRowNotFound:          http.StatusNotFound,
	ErrCodeNotificationNotFound: http.StatusNotFound,
	ErrCodeInvalidIdentifier:    http.StatusBadRequest,
	ErrCodeMissingPrimaryKey:    http.StatusBadRequest,

	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeInvalidToken: http.StatusUnauthorized,

	ErrCodeInvalidJSON:       http.StatusBadRequest,
	ErrCodeInvalidParameters: http.StatusBadRequest,
}

// AppError represents an application error with additional context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent interface for creating errors
type ErrorBuilder struct {
	code    string
	message string
	details string
	cause   error
}

// NewErrorBuilder creates a new error builder
func NewErrorBuilder(code string) *ErrorBuilder {
	return &ErrorBuilder{code: code}
}

func (eb *ErrorBuilder) WithMessage(message string) *ErrorBuilder {
	eb.message = message
	return eb
}

func (eb *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	eb.details = details
	return eb
}

func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.cause = cause
	return eb
}

// Build constructs the final AppError
func (eb *ErrorBuilder) Build() *AppError {
	if eb.message == "" {
		eb.message = getDefaultMessage(eb.code)
	}
	return &AppError{
		Code:    eb.code,
		Message: eb.message,
		Details: eb.details,
		Cause:   eb.cause,
	}
}

func getDefaultMessage(code string) string {
	messages := map[string]string{
		ErrCodeInvalidRequest:     "The request is invalid",
		ErrCodeValidationFailed:   "Validation failed",
		ErrCodeUnauthorized:       "Unauthorized access",
		ErrCodeForbidden:          "Access forbidden",
		ErrCodeNotFound:           "Resource not found",
		ErrCodeConflict:           "Resource conflict",
		ErrCodeInternalError:      "Internal Server Error",
		ErrCodeServiceUnavailable: "Service temporarily unavailable",
		ErrCodeRateLimitExceeded:  "Rate limit exceeded",

		ErrCodeDatabaseError:    "Database error",
		ErrCodeQueryTimeout:     "Statement timeout",
		ErrCodeRetriesExhausted: "Insert failed after retries",
		ErrCodeSchemaConflict:   "Table schema changed concurrently",
		ErrCodeQueueUnavailable: "Failed to publish batches",

		ErrCodeTableNotFound:        "Table not found",
		ErrCodeRowNotFound:          "Row not found",
		ErrCodeNotificationNotFound: "Notification not found",
		ErrCodeInvalidIdentifier:    "Invalid identifier",
		ErrCodeMissingPrimaryKey:    "Primary key not defined",

		ErrCodeTokenExpired: "Token expired",
		ErrCodeInvalidToken: "Invalid token",

		ErrCodeInvalidJSON:       "Invalid payload structure",
		ErrCodeInvalidParameters: "Invalid parameters",
	}

	if msg, exists := messages[code]; exists {
		return msg
	}
	return "Unknown error"
}

func NewNotFoundError(resource string) *AppError {
	return NewErrorBuilder(ErrCodeNotFound).
		WithMessage(fmt.Sprintf("%s not found", resource)).
		Build()
}

func NewValidationError(message string, details string) *AppError {
	return NewErrorBuilder(ErrCodeValidationFailed).
		WithMessage(message).
		WithDetails(details).
		Build()
}

func NewAuthenticationError(message string) *AppError {
	return NewErrorBuilder(ErrCodeUnauthorized).
		WithMessage(message).
		Build()
}

// codeFor maps pipeline error codes onto API codes. Codes not listed fall
// back to the category.
var codeFor = map[string]string{
	apperrors.CodeInvalidIdentifier:    ErrCodeInvalidIdentifier,
	apperrors.CodeMissingPrimaryKey:    ErrCodeMissingPrimaryKey,
	apperrors.CodeSchemaConflict:       ErrCodeSchemaConflict,
	apperrors.CodeRetriesExhausted:     ErrCodeRetriesExhausted,
	apperrors.CodeStatementTimeout:     ErrCodeQueryTimeout,
	apperrors.CodeTableNotFound:        ErrCodeTableNotFound,
	apperrors.CodeRowNotFound:          ErrCodeRowNotFound,
	apperrors.CodeNotificationNotFound: ErrCodeNotificationNotFound,
}

var codeForCategory = map[apperrors.Category]string{
	apperrors.CategoryValidation:     ErrCodeValidationFailed,
	apperrors.CategoryConflict:       ErrCodeConflict,
	apperrors.CategoryNotFound:       ErrCodeNotFound,
	apperrors.CategoryTransientStore: ErrCodeDatabaseError,
	apperrors.CategoryFatalStore:     ErrCodeDatabaseError,
	apperrors.CategoryTransport:      ErrCodeQueueUnavailable,
}

// FromError converts any error into an AppError. Messages of validation,
// conflict and not found errors are passed to the client; store and
// transport failures only expose the generic message.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var pe *apperrors.Error
	if !errors.As(err, &pe) {
		return NewErrorBuilder(ErrCodeInternalError).WithCause(err).Build()
	}

	code, ok := codeFor[pe.Code]
	if !ok {
		code, ok = codeForCategory[pe.Category]
	}
	if !ok {
		code = ErrCodeInternalError
	}

	b := NewErrorBuilder(code).WithCause(err)
	switch pe.Category {
	case apperrors.CategoryValidation, apperrors.CategoryConflict, apperrors.CategoryNotFound:
		b.WithMessage(pe.Message)
	}
	return b.Build()
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if status, exists := HTTPStatus[appErr.Code]; exists {
			return status
		}
	}
	return http.StatusInternalServerError
}
