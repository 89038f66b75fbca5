package session

import "errors"

var (
	// ErrInvalidTransition is returned for an action the current mode does
	// not accept.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrCameraUnavailable is returned when an action needs a camera stream
	// and none is held.
	ErrCameraUnavailable = errors.New("session: camera unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)
