package dispatch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed analysis cycle.
type ErrorKind string

const (
	// CameraError is a device or permission failure while acquiring or
	// reading the camera. Recovered by retrying or switching to upload.
	CameraError ErrorKind = "camera_error"

	// NetworkError means no response was received from the service.
	NetworkError ErrorKind = "network_error"

	// ServiceError means the service answered with a structured error.
	ServiceError ErrorKind = "service_error"

	// Busy means a request was already outstanding and the submission
	// was rejected rather than queued.
	Busy ErrorKind = "busy"
)

// DefaultServiceMessage replaces an empty service error message.
const DefaultServiceMessage = "analysis service error"

// ErrBusy is the cause carried by every Busy error.
var ErrBusy = errors.New("dispatch: request already in flight")

// Error is a classified failure. It is surfaced to the operator and never
// fatal to the process.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// StatusCode is the HTTP status of a ServiceError, if any.
	StatusCode int `json:"status_code,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dispatch: %s", e.Kind)
	}
	return fmt.Sprintf("dispatch: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err,
// &Error{Kind: Busy}) works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == ""
}

// NewCameraError wraps a camera failure.
func NewCameraError(err error) *Error {
	return &Error{Kind: CameraError, Message: errMessage(err), Err: err}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(err error) *Error {
	return &Error{Kind: NetworkError, Message: errMessage(err), Err: err}
}

// NewServiceError builds a ServiceError, substituting DefaultServiceMessage
// for an empty message.
func NewServiceError(status int, message string) *Error {
	if message == "" {
		message = DefaultServiceMessage
	}
	return &Error{Kind: ServiceError, Message: message, StatusCode: status}
}

// NewBusyError returns the error reported for a rejected submission.
func NewBusyError() *Error {
	return &Error{Kind: Busy, Message: ErrBusy.Error(), Err: ErrBusy}
}

// AsError classifies err. *Error values are returned as-is; anything else
// is treated as a request that never got a response.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewNetworkError(err)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
