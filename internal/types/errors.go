package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing relay errors.
type ErrorCode string

// Complete error code constants. Components MUST use these constants instead
// of hardcoded strings so the controller can classify failures uniformly.
const (
	// Fetch failures from the gateway device.
	ErrCodeFetchTransient ErrorCode = "fetch_transient" // timeout, refused connection, 5xx
	ErrCodeFetchPermanent ErrorCode = "fetch_permanent" // auth rejected, malformed response

	// Local persistence failures.
	ErrCodePersistence  ErrorCode = "persistence_failed" // state/archive write not durable
	ErrCodeStateCorrupt ErrorCode = "state_corrupt"      // recovered locally by defaulting
	ErrCodeArchive      ErrorCode = "archive_failed"

	// Process-level conditions.
	ErrCodeConfigInvalid ErrorCode = "config_invalid"
	ErrCodeLockHeld      ErrorCode = "lock_held"
	ErrCodeCancelled     ErrorCode = "cancelled"
	ErrCodeNotifyFailed  ErrorCode = "notify_failed"

	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected"
)

// AppError is the standard application error used throughout the relay.
// Expressing domain errors as AppError enables consistent classification
// (transient vs. permanent), structured logging, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details
// for diagnostics (attempt counts, file paths, status codes).
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}

// CodeOf extracts the ErrorCode from an error chain. Unclassified errors
// report ErrCodeInternalUnexpected.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsTransient reports whether the error is worth retrying within a cycle.
// Only fetch-level transient failures qualify; everything else either aborts
// the cycle or is handled locally by the component that raised it.
func IsTransient(err error) bool {
	return CodeOf(err) == ErrCodeFetchTransient
}

// IsPermanent reports whether the error must abort the fetch immediately
// with no retry.
func IsPermanent(err error) bool {
	return CodeOf(err) == ErrCodeFetchPermanent
}
