// ABOUTME: Boundary error shape {code, message} and mapping from internal errors.
// ABOUTME: Service errors keep their numeric code; IO and transport failures are tagged.

package calls

import (
	"errors"
	"fmt"
	"strconv"
)

// Fixed boundary codes.
const (
	CodeServiceUnavailable = "50000"
	CodeRateLimited        = "42900"
	TagIO                  = "API Error"
)

// Fixed boundary messages.
const (
	MsgServiceUnavailable = "Service Start Failed"
	MsgRateLimited        = "Rate Limited"
	MsgSyncFailed         = "Sync Data Failed"
	MsgRollbackFailed     = "Rollback Data Failed"
	MsgResetFailed        = "Reset Failed"
)

// Error is the {code, message} pair a caller or consumer receives.
type Error struct {
	Code    string `cbor:"code" json:"code"`
	Message string `cbor:"message" json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a boundary error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ErrServiceUnavailable is the boundary error for calls made with no service connected.
var ErrServiceUnavailable = NewError(CodeServiceUnavailable, MsgServiceUnavailable)

// ServiceError is raised by the background service while executing a call.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// IOError wraps a data-file failure with the fixed message of its operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

// FromError maps any error onto the boundary shape.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var be *Error
	if errors.As(err, &be) {
		return be
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return NewError(strconv.Itoa(se.Code), se.Message)
	}

	var ioe *IOError
	if errors.As(err, &ioe) {
		return NewError(TagIO, ioe.Error())
	}

	return NewError(TagIO, err.Error())
}

// Status labels for call metrics.
const (
	StatusOK           = "ok"
	StatusServiceError = "service_error"
	StatusAPIError     = "api_error"
)

// StatusLabel collapses an outcome onto a bounded metric label. Numeric service
// codes all report as service_error.
func StatusLabel(e *Error) string {
	if e == nil {
		return StatusOK
	}
	switch e.Code {
	case CodeServiceUnavailable, CodeRateLimited:
		return e.Code
	case TagIO:
		return StatusAPIError
	default:
		return StatusServiceError
	}
}
