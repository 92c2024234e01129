package errors

import (
	stderrors "errors"
	"fmt"
)

// AmbianceError is the structured error type for ambiance.
// It carries enough context for logging, CLI output and management responses.
type AmbianceError struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_INPUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried later.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is checks. Matching is by code, so any AmbianceError
// carrying the same code matches.
var (
	ErrInvalidInput         = &AmbianceError{Code: ErrCodeInvalidInput}
	ErrDimensionMismatch    = &AmbianceError{Code: ErrCodeDimensionMismatch}
	ErrModelIncompatible    = &AmbianceError{Code: ErrCodeModelIncompatible}
	ErrGenerationInProgress = &AmbianceError{Code: ErrCodeGenerationInProgress}
	ErrStorageUnavailable   = &AmbianceError{Code: ErrCodeStorageUnavailable}
	ErrNotFound             = &AmbianceError{Code: ErrCodeNotFound}
)

// Error implements the error interface.
func (e *AmbianceError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmbianceError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AmbianceError with the same code.
func (e *AmbianceError) Is(target error) bool {
	if t, ok := target.(*AmbianceError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmbianceError) WithDetail(key, value string) *AmbianceError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmbianceError) WithSuggestion(suggestion string) *AmbianceError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmbianceError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmbianceError {
	return &AmbianceError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmbianceError from an existing error.
func Wrap(code string, err error) *AmbianceError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidInput creates an error for empty or malformed input.
func InvalidInput(message string) *AmbianceError {
	return New(ErrCodeInvalidInput, message, nil)
}

// DimensionMismatch creates an error for vectors whose length disagrees with
// the expected dimensionality.
func DimensionMismatch(expected, got int) *AmbianceError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got))
}

// ModelIncompatible creates an error for stored embeddings produced by a
// different model than the configured one. Recoverable by re-embedding.
func ModelIncompatible(message string) *AmbianceError {
	return New(ErrCodeModelIncompatible, message, nil).
		WithSuggestion("Run 'ambiance embeddings create' to regenerate embeddings with the current model")
}

// GenerationInProgress creates an error for a refused duplicate trigger.
func GenerationInProgress(projectID string) *AmbianceError {
	return New(ErrCodeGenerationInProgress, "embedding generation already running", nil).
		WithDetail("project_id", projectID).
		WithSuggestion("Poll the status action and retry once the current run completes")
}

// StorageUnavailable creates an error for a store that cannot be opened or used.
func StorageUnavailable(message string, cause error) *AmbianceError {
	return New(ErrCodeStorageUnavailable, message, cause)
}

// NotFound creates an error for an absent project, session or resource.
func NotFound(what string) *AmbianceError {
	return New(ErrCodeNotFound, what+" not found", nil)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmbianceError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NetworkError creates a network-related error. Network errors are retryable.
func NetworkError(message string, cause error) *AmbianceError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmbianceError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first AmbianceError in err's chain.
func As(err error) (*AmbianceError, bool) {
	var ae *AmbianceError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not an AmbianceError.
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err is not an AmbianceError.
func GetCategory(err error) Category {
	if ae, ok := As(err); ok {
		return ae.Category
	}
	return ""
}
