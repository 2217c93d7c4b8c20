package npem

import (
	"errors"
	"fmt"
)

// Error represents a domain-specific indication control error
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	// ErrCodeTransport: config space or firmware transport access failed.
	// Fatal to the operation; never retried here.
	ErrCodeTransport = "TRANSPORT_ERROR"
	// ErrCodeTimeout: the completion poll deadline elapsed. The outcome of
	// the underlying command is unknown.
	ErrCodeTimeout = "TIMEOUT"
	// ErrCodeUnsupported: the indication or backend method is not available
	// on this device. Rejected before any I/O.
	ErrCodeUnsupported = "UNSUPPORTED"
	// ErrCodeBackendRejected: structured failure status from the firmware
	// method backend.
	ErrCodeBackendRejected = "BACKEND_REJECTED"
	// ErrCodeInterrupted: the session lock wait was abandoned because the
	// calling context was cancelled. Hardware state was not touched.
	ErrCodeInterrupted = "INTERRUPTED"
)

// NewError creates a new indication control error
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns err's error code, or "" when err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
