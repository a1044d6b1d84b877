package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError is the application error taxonomy. Code identifies the class,
// Retryable tells WithRetry whether another attempt can help, and Severity
// drives Sentry forwarding in the handler.
type AppError struct {
	Code      string
	Message   string
	Severity  Severity
	Retryable bool
	cause     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewValidationError marks a malformed request body or missing field.
// Mapped to HTTP 400 at the API boundary.
func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:      "E100",
		Message:   msg,
		Severity:  SeverityLow,
		Retryable: false,
	}
}

// NewNotAuthenticatedError marks a request missing its user identity.
// Mapped to HTTP 401 at the API boundary.
func NewNotAuthenticatedError() *AppError {
	return &AppError{
		Code:      "E110",
		Message:   "missing user identity",
		Severity:  SeverityLow,
		Retryable: false,
	}
}

// NewStorageError wraps repository or cache failures. A storage error skips
// the affected user's remaining steps for the current pass only.
func NewStorageError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:      "E200",
		Message:   fmt.Sprintf("storage error: %s", underlyingMsg),
		Severity:  SeverityHigh,
		Retryable: true,
		cause:     cause,
	}
}

// NewUpstreamError wraps a non-2xx or transport failure from a platform
// adapter or payout provider. The message carries the upstream name and HTTP
// status only, never upstream payloads or credentials.
func NewUpstreamError(upstream string, status int, cause error) *AppError {
	msg := fmt.Sprintf("upstream %s failed", upstream)
	if status > 0 {
		msg = fmt.Sprintf("upstream %s returned status %d", upstream, status)
	}

	return &AppError{
		Code:      "E300",
		Message:   msg,
		Severity:  SeverityMedium,
		Retryable: true,
		cause:     cause,
	}
}

// NewUnexpectedResponseError marks a 2xx upstream response that lacks the
// expected confirmation field. Treated as a failure, never a silent success.
func NewUnexpectedResponseError(upstream, missing string) *AppError {
	return &AppError{
		Code:      "E310",
		Message:   fmt.Sprintf("upstream %s: unexpected response, missing %s", upstream, missing),
		Severity:  SeverityMedium,
		Retryable: false,
	}
}
