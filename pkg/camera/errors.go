package camera

import (
	"errors"
	"fmt"
)

// Sentinel errors for acquisition failures. Use errors.Is against these.
var (
	// ErrPermissionDenied is returned when access to the device is refused.
	ErrPermissionDenied = errors.New("camera: permission denied")

	// ErrNoDevice is returned when no device matches the constraints.
	ErrNoDevice = errors.New("camera: no matching device")

	// ErrDeviceBusy is returned when the device is held by another process.
	ErrDeviceBusy = errors.New("camera: device busy")

	// ErrNoStream is returned when a frame is requested but nothing is held.
	ErrNoStream = errors.New("camera: no active stream")

	// ErrEmptyFrame is returned when the device delivers an empty frame.
	ErrEmptyFrame = errors.New("camera: empty frame")
)

// Error describes a failed acquisition. Reason is one of the sentinels
// above; Err carries the backend detail, if any.
type Error struct {
	Reason error
	Device string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Reason.Error()
	if e.Device != "" {
		msg = fmt.Sprintf("%s (device %s)", msg, e.Device)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the reason and the backend error to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// NewError builds an acquisition error.
func NewError(reason error, device string, err error) *Error {
	return &Error{Reason: reason, Device: device, Err: err}
}
