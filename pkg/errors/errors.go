// Package errors provides structured error types for the ingestion pipeline.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the orchestrator, adapters, and CLI
//   - Machine-readable error codes for checkpoint bookkeeping
//   - User-friendly error messages on the status surface
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Codes map directly onto checkpoint outcomes:
//   - NOT_FOUND: the target does not exist upstream (terminal, skipped)
//   - RATE_LIMITED, TIMEOUT, TRANSIENT_NETWORK: retryable under backoff
//   - MALFORMED_MANIFEST: degrade gracefully, continue with partial metadata
//   - DECOMPRESSION_BOMB: terminal, never retried
//   - ALREADY_PROCESSING: another worker holds the claim
//   - ANALYSIS_UNAVAILABLE: risk level unknown, ingestion still succeeds
//
// # Usage
//
//	err := errors.New(errors.ErrCodeNotFound, "npm package %s", name)
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // Mark the checkpoint skipped
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeTransient, origErr, "fetch %s", url)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for the ingestion failure taxonomy.
const (
	// Input validation errors
	ErrCodeInvalidTarget  Code = "INVALID_TARGET"
	ErrCodeInvalidChannel Code = "INVALID_CHANNEL"
	ErrCodeInvalidConfig  Code = "INVALID_CONFIG"

	// Terminal fetch errors
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeDecompressionBomb Code = "DECOMPRESSION_BOMB"

	// Retryable fetch errors
	ErrCodeRateLimited Code = "RATE_LIMITED"
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeTransient   Code = "TRANSIENT_NETWORK"

	// Degraded-but-successful outcomes
	ErrCodeMalformedManifest   Code = "MALFORMED_MANIFEST"
	ErrCodeAnalysisUnavailable Code = "ANALYSIS_UNAVAILABLE"

	// Coordination errors
	ErrCodeAlreadyProcessing Code = "ALREADY_PROCESSING"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsRetryable reports whether err should be retried under the backoff
// policy. Rate limits, timeouts, and transient network failures qualify;
// everything else is either terminal or a degraded success.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeRateLimited, ErrCodeTimeout, ErrCodeTransient:
		return true
	}
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsTerminal reports whether err should stop retries immediately and mark
// the checkpoint skipped (NOT_FOUND) or failed (DECOMPRESSION_BOMB).
func IsTerminal(err error) bool {
	switch GetCode(err) {
	case ErrCodeNotFound, ErrCodeDecompressionBomb, ErrCodeInvalidTarget:
		return true
	}
	return false
}

// RateLimitedError provides additional information for rate-limited responses.
type RateLimitedError struct {
	RetryAfter int // Seconds to wait before retrying, 0 if the server gave no hint
	Message    string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %d seconds", e.RetryAfter)
	}
	return "rate limited"
}

// Code returns the error code for this error type.
func (e *RateLimitedError) Code() Code {
	return ErrCodeRateLimited
}

// RetryAfterHint extracts a server-provided retry delay from the error
// chain. Returns 0 if no hint is present.
func RetryAfterHint(err error) int {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
