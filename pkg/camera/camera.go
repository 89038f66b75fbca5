package camera

import (
	"context"
	"image"
)

// Stream is a live video source.
// Only the Session that acquired it may read from it.
type Stream interface {
	// Read returns the current frame at its native resolution.
	Read() (image.Image, error)

	// Resolution reports the size the device is actually delivering,
	// which may differ from the requested Constraints.
	Resolution() (width, height int)

	// Close stops all underlying tracks.
	Close() error
}

// Device opens streams. Implementations map their failures onto *Error
// with one of ErrPermissionDenied, ErrNoDevice or ErrDeviceBusy.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)

	// Name returns the backend name (e.g. "gocv", "mock").
	Name() string
}
