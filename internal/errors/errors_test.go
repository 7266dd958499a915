package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDocsqlError_Error(t *testing.T) {
	err := New(ErrCategoryConstraint, CodePrimaryKey, "Primary key '1' already exists in table 't'")
	expected := "[CONSTRAINT:PRIMARY_KEY] Primary key '1' already exists in table 't'"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestDocsqlError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewStorageError("insert failed", cause)
	expected := "[STORAGE:STORAGE_FAILURE] insert failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestDocsqlError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryStorage, CodeCorruptDocument, "bad blob", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestDocsqlError_Is(t *testing.T) {
	err1 := NewNotFoundError(CodeTable, "first")
	err2 := NewNotFoundError(CodeTable, "second")
	err3 := NewNotFoundError(CodeDatabase, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeStorageFailure, true},
		{ErrCategoryStorage, CodeCorruptDocument, false},
		{ErrCategorySyntax, CodeParseError, false},
		{ErrCategorySchema, CodeDuplicateTable, false},
		{ErrCategoryConstraint, CodeForeignKey, false},
		{ErrCategoryNotFound, CodeRow, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewSyntaxError("bad sql", nil))
	if GetCategory(err) != ErrCategorySyntax {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategorySyntax)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-DocsqlError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := NewSchemaError(CodeUnknownColumn, "Column 'x' does not exist in table 't'")
	if GetCode(err) != CodeUnknownColumn {
		t.Errorf("got %q, want %q", GetCode(err), CodeUnknownColumn)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-DocsqlError should return empty code")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(NewNotFoundError(CodeNoDatabase, "No database selected")); got != "No database selected" {
		t.Errorf("got %q", got)
	}
	if got := Message(NewStorageError("find failed", fmt.Errorf("timeout"))); got != "find failed: timeout" {
		t.Errorf("got %q", got)
	}
	if got := Message(fmt.Errorf("plain")); got != "plain" {
		t.Errorf("got %q", got)
	}
	if got := Message(nil); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestWithDetails(t *testing.T) {
	err := NewConstraintViolation(CodeUnique, "duplicate")
	detailed := err.WithDetails(map[string]interface{}{"column": "email"})

	if detailed.Details["column"] != "email" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	s := NewSyntaxError("unexpected token", cause)
	if s.Category != ErrCategorySyntax || s.Code != CodeParseError || !errors.Is(s, cause) {
		t.Error("NewSyntaxError mismatch")
	}

	st := NewStorageError("mongo down", cause)
	if st.Category != ErrCategoryStorage || !st.Retryable {
		t.Error("NewStorageError mismatch")
	}

	c := NewConstraintViolation(CodeReferenced, "Cannot delete: row is referenced by table 'orders'")
	if c.Category != ErrCategoryConstraint {
		t.Error("NewConstraintViolation mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}

	f := Newf(ErrCategorySchema, CodeDuplicateIndex, "Index '%s' already exists on table '%s'", "ix", "t")
	if f.Message != "Index 'ix' already exists on table 't'" {
		t.Errorf("Newf message %q", f.Message)
	}
}
