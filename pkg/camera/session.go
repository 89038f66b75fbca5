package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Session holds at most one Stream acquired from a Device.
type Session struct {
	device Device
	logger *slog.Logger

	mu          sync.Mutex
	stream      Stream
	constraints Constraints
}

// NewSession creates a session backed by device.
func NewSession(device Device, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		device: device,
		logger: logger.With("component", "camera.session", "backend", device.Name()),
	}
}

// Acquire opens a stream matching c. A stream that is already held is
// released first so device handles never leak.
//
// Acquire blocks while the backend waits on permission or the device;
// Release calls issued meanwhile wait for it to finish.
func (s *Session) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if errs := c.Validate(); len(errs) > 0 {
		return nil, NewError(ErrNoDevice, c.Device, fmt.Errorf("invalid constraints: %v", errs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		s.logger.Debug("releasing previous stream before re-acquire")
		s.closeLocked()
	}

	stream, err := s.device.Open(ctx, c)
	if err != nil {
		var camErr *Error
		if !errors.As(err, &camErr) {
			err = NewError(ErrNoDevice, c.Device, err)
		}
		s.logger.Warn("camera acquisition failed", "error", err)
		return nil, err
	}

	w, h := stream.Resolution()
	s.logger.Info("camera acquired",
		"requested", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"actual", fmt.Sprintf("%dx%d", w, h),
		"facing", c.Facing,
	)

	s.stream = stream
	s.constraints = c
	return stream, nil
}

// Release stops the held stream. It is safe to call at any time, any
// number of times.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return
	}
	s.closeLocked()
	s.logger.Info("camera released")
}

// Stream returns the held stream, or nil.
func (s *Session) Stream() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Held reports whether a stream is currently held.
func (s *Session) Held() bool {
	return s.Stream() != nil
}

// Constraints returns the constraints of the held stream.
func (s *Session) Constraints() Constraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.constraints
}

func (s *Session) closeLocked() {
	if err := s.stream.Close(); err != nil {
		// The stream is gone either way.
		s.logger.Warn("stream close failed", "error", err)
	}
	s.stream = nil
}
