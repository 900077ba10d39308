package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and repositories use these constants
// instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMalformedSample ErrorCode = "validation_malformed_sample"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPayload  ErrorCode = "validation_invalid_payload"
	ErrCodeValidationThresholdRange  ErrorCode = "validation_threshold_out_of_range"
	ErrCodeValidationInvalidLimit    ErrorCode = "validation_invalid_limit"

	// Not Found (404)
	ErrCodeNotFoundPatient ErrorCode = "not_found_patient"
	ErrCodeNotFoundScore   ErrorCode = "not_found_score"
	ErrCodeNotFoundOutcome ErrorCode = "not_found_outcome"

	// Conflict (409)
	ErrCodeConflictStaleSample ErrorCode = "conflict_stale_sample"

	// Backpressure (429)
	ErrCodeRateLimitedMailboxFull ErrorCode = "rate_limited_mailbox_full"

	// Dispatch (502-ish, surfaced but never fatal)
	ErrCodeDispatchChannelFailure ErrorCode = "dispatch_channel_failure"
	ErrCodeDispatchExhausted      ErrorCode = "dispatch_channel_exhausted"
	ErrCodeDispatchUnknownChannel ErrorCode = "dispatch_unknown_channel"

	// Upstream (502)
	ErrCodeUpstreamSMSGateway ErrorCode = "upstream_sms_gateway_unavailable"
	ErrCodeUpstreamBuzzer     ErrorCode = "upstream_buzzer_unavailable"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalModel      ErrorCode = "internal_model_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeInternalShutdown   ErrorCode = "internal_shutting_down"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "rate_limited_"):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "upstream_"), strings.HasPrefix(s, "dispatch_"):
		return http.StatusBadGateway
	case c == ErrCodeInternalShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain and handler errors
// are expressed as AppError to enable consistent formatting, HTTP status
// mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}

// MalformedSample builds the structural-rejection error for a sample missing
// its identity or timestamp. The sample is dropped and logged; it never
// reaches the alert state machine.
func MalformedSample(reason string) *AppError {
	return NewAppError(ErrCodeValidationMalformedSample, reason, nil)
}
