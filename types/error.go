package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Strategy and aggregation error codes
const (
	ErrEmptySharedStates ErrorCode = "EMPTY_SHARED_STATES"
	ErrLayerMismatch     ErrorCode = "LAYER_MISMATCH"
	ErrNoAggregator      ErrorCode = "NO_AGGREGATOR"
	ErrUntrainedOrg      ErrorCode = "UNTRAINED_ORG"
	ErrIncompatibleAlgo  ErrorCode = "INCOMPATIBLE_ALGO"
)

// Plan and engine error codes
const (
	ErrPlanNotFound    ErrorCode = "PLAN_NOT_FOUND"
	ErrInvalidPlan     ErrorCode = "INVALID_PLAN"
	ErrTaskFailed      ErrorCode = "TASK_FAILED"
	ErrStateNotFound   ErrorCode = "STATE_NOT_FOUND"
	ErrMetricNotFound  ErrorCode = "METRIC_NOT_FOUND"
	ErrDatasetNotFound ErrorCode = "DATASET_NOT_FOUND"
)

// Registry and transport error codes
const (
	ErrOrgNotFound      ErrorCode = "ORG_NOT_FOUND"
	ErrOrgOffline       ErrorCode = "ORG_OFFLINE"
	ErrInvalidToken     ErrorCode = "INVALID_TOKEN"
	ErrDispatchFailed   ErrorCode = "DISPATCH_FAILED"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a structured error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a structured error wrapping a cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a *Error.
// Returns ErrInternalError for foreign errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrInternalError
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}

// IsRetryable reports whether err is a *Error marked retryable, such
// as a transient dispatch failure.
func IsRetryable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Retryable
}
