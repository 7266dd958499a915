// Package errors provides structured error types for docsql.
// Every error carries a category, code, message, and retryable flag so that
// statement results can report a discriminated failure to callers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the kind of failure.
type ErrorCategory string

const (
	ErrCategorySyntax     ErrorCategory = "SYNTAX"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryConstraint ErrorCategory = "CONSTRAINT"
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Syntax codes
	CodeParseError           = "PARSE_ERROR"
	CodeUnsupportedStatement = "UNSUPPORTED_STATEMENT"

	// Schema codes
	CodeUnknownColumn     = "UNKNOWN_COLUMN"
	CodeInvalidType       = "INVALID_TYPE"
	CodeInvalidValue      = "INVALID_VALUE"
	CodeDuplicateTable    = "DUPLICATE_TABLE"
	CodeDuplicateIndex    = "DUPLICATE_INDEX"
	CodeDuplicateDatabase = "DUPLICATE_DATABASE"
	CodeInvalidDefinition = "INVALID_DEFINITION"
	CodeDatabaseInUse     = "DATABASE_IN_USE"

	// Constraint codes
	CodePrimaryKey = "PRIMARY_KEY"
	CodeUnique     = "UNIQUE"
	CodeForeignKey = "FOREIGN_KEY"
	CodeReferenced = "REFERENCED"

	// Not found codes
	CodeDatabase   = "DATABASE"
	CodeTable      = "TABLE"
	CodeIndex      = "INDEX"
	CodeRow        = "ROW"
	CodeNoDatabase = "NO_DATABASE"

	// Storage codes
	CodeStorageFailure  = "STORAGE_FAILURE"
	CodeCorruptDocument = "CORRUPT_DOCUMENT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DocsqlError is the structured error type used throughout the system.
type DocsqlError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DocsqlError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DocsqlError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DocsqlError) Is(target error) bool {
	var t *DocsqlError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new DocsqlError.
func New(category ErrorCategory, code, message string) *DocsqlError {
	return &DocsqlError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new DocsqlError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *DocsqlError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new DocsqlError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DocsqlError {
	return &DocsqlError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DocsqlError) WithDetails(details map[string]interface{}) *DocsqlError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DocsqlError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DocsqlError.
func GetCategory(err error) ErrorCategory {
	var de *DocsqlError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DocsqlError.
func GetCode(err error) string {
	var de *DocsqlError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Message returns the human readable message of a DocsqlError, or err.Error()
// for any other error.
func Message(err error) string {
	var de *DocsqlError
	if errors.As(err, &de) {
		if de.Cause != nil {
			return fmt.Sprintf("%s: %v", de.Message, de.Cause)
		}
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryStorage && code == CodeStorageFailure
}

// Convenience constructors for common errors.

func NewSyntaxError(message string, cause error) *DocsqlError {
	return Wrap(ErrCategorySyntax, CodeParseError, message, cause)
}

func NewSchemaError(code, message string) *DocsqlError {
	return New(ErrCategorySchema, code, message)
}

func NewConstraintViolation(code, message string) *DocsqlError {
	return New(ErrCategoryConstraint, code, message)
}

func NewNotFoundError(code, message string) *DocsqlError {
	return New(ErrCategoryNotFound, code, message)
}

func NewStorageError(message string, cause error) *DocsqlError {
	return Wrap(ErrCategoryStorage, CodeStorageFailure, message, cause)
}

func NewInternalError(message string, cause error) *DocsqlError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
