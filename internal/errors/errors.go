// Package errors provides structured error types for the Lumen system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryArchive    ErrorCategory = "ARCHIVE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryThreshold  ErrorCategory = "THRESHOLD"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidParams = "INVALID_PARAMS"
	CodeInvalidConfig = "INVALID_CONFIG"

	// Archive codes
	CodeMalformedArchive = "MALFORMED_ARCHIVE"
	CodeManifestMissing  = "MANIFEST_MISSING"
	CodeEntryNotFound    = "ENTRY_NOT_FOUND"

	// Catalog codes
	CodeBundleNotFound     = "BUNDLE_NOT_FOUND"
	CodeCorruptionDetected = "CORRUPTION_DETECTED"
	CodeWriteConflict      = "WRITE_CONFLICT"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Threshold codes
	CodeTooManyThresholds = "TOO_MANY_THRESHOLDS"

	// Query codes
	CodeUnknownField     = "UNKNOWN_FIELD"
	CodeResolutionFailed = "RESOLUTION_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// LumenError is the structured error type used throughout the system.
type LumenError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *LumenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *LumenError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *LumenError) Is(target error) bool {
	var t *LumenError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new LumenError.
func New(category ErrorCategory, code, message string) *LumenError {
	return &LumenError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new LumenError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *LumenError {
	return &LumenError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *LumenError) WithDetails(details map[string]interface{}) *LumenError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var le *LumenError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a LumenError.
func GetCategory(err error) ErrorCategory {
	var le *LumenError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a LumenError.
func GetCode(err error) string {
	var le *LumenError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable.
// Only transient storage and catalog-write failures qualify; a malformed
// archive or an over-limit threshold query fails the same way every time.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeWriteConflict:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *LumenError {
	return New(ErrCategoryValidation, code, message)
}

func NewArchiveError(code, message string, cause error) *LumenError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *LumenError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewStorageError(code, message string, cause error) *LumenError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewThresholdError(code, message string) *LumenError {
	return New(ErrCategoryThreshold, code, message)
}

func NewQueryError(code, message string) *LumenError {
	return New(ErrCategoryQuery, code, message)
}

func NewInternalError(message string, cause error) *LumenError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
