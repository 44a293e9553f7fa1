package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := New(CategoryValidation, CodeInvalidPayload, "csvName is required")
	expected := "[VALIDATION:INVALID_PAYLOAD] csvName is required"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CategoryTransport, CodePublishFailed, "publish failed", cause)
	expected := "[TRANSPORT:PUBLISH_FAILED] publish failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause to errors.Is")
	}
}

func TestError_IsMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("ingest: %w", Newf(CategoryTransientStore, CodeRetriesExhausted, "insert failed after %d retries", 5))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Error("wrapped error should match the exhausted-retries sentinel")
	}
	if errors.Is(err, ErrRelationNotFound) {
		t.Error("different codes must not match")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{Wrap(CategoryTransientStore, CodeRelationNotFound, "missing", errors.New("42P01")), true},
		{New(CategoryTransientStore, CodeRetriesExhausted, "gave up"), false},
		{New(CategoryFatalStore, CodeExecutionFailed, "syntax"), false},
		{New(CategoryValidation, CodeMissingPrimaryKey, "no pk"), false},
		{New(CategoryTransport, CodePublishFailed, "down"), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.retryable {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrSchemaConflict)
	if got := GetCategory(err); got != CategoryConflict {
		t.Errorf("GetCategory = %q", got)
	}
	if got := GetCode(err); got != CodeSchemaConflict {
		t.Errorf("GetCode = %q", got)
	}
	if GetCategory(errors.New("plain")) != "" || GetCode(nil) != "" {
		t.Error("non-pipeline errors should have no category or code")
	}
}
