// Package gocvcam is the OpenCV camera backend for pkg/camera.
//
// It opens local V4L2/AVFoundation devices by index and network sources
// (rtsp://, http:// MJPEG) by URL. OpenCV cannot pick a device by facing
// direction, so Constraints.Facing is advisory here and Constraints.Device
// decides which source is opened.
package gocvcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-feedscan/pkg/camera"
)

// Device opens OpenCV video captures.
type Device struct{}

// New returns the OpenCV backend.
func New() *Device {
	return &Device{}
}

// Name returns "gocv".
func (d *Device) Name() string {
	return "gocv"
}

// Open acquires the source described by c.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, camera.NewError(camera.ErrNoDevice, c.Device, err)
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	source := c.Device
	if idx, ok := c.DeviceIndex(); ok || source == "" {
		if err := checkDeviceNode(idx); err != nil {
			return nil, err
		}
		source = fmt.Sprint(idx)
		vc, err = gocv.VideoCaptureDevice(idx)
	} else {
		vc, err = gocv.VideoCaptureFile(source)
	}
	if err != nil {
		return nil, camera.NewError(camera.ErrNoDevice, source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, camera.NewError(camera.ErrNoDevice, source, nil)
	}

	// Ideal values only; the driver picks the closest mode it supports.
	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	if c.Framerate > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(c.Framerate))
	}
	// Keep only the newest frame so a capture after a slow request is fresh.
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	s := &stream{vc: vc, frame: gocv.NewMat()}

	// A device held by another process opens fine but never delivers.
	if !vc.Read(&s.frame) || s.frame.Empty() {
		s.Close()
		return nil, camera.NewError(camera.ErrDeviceBusy, source, errors.New("no frame delivered"))
	}
	return s, nil
}

// checkDeviceNode maps a missing or unreadable /dev/videoN onto the camera
// error taxonomy before OpenCV hides the reason.
func checkDeviceNode(idx int) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	path := fmt.Sprintf("/dev/video%d", idx)
	f, err := os.Open(path)
	switch {
	case err == nil:
		f.Close()
		return nil
	case errors.Is(err, os.ErrNotExist):
		return camera.NewError(camera.ErrNoDevice, path, err)
	case errors.Is(err, os.ErrPermission):
		return camera.NewError(camera.ErrPermissionDenied, path, err)
	default:
		return camera.NewError(camera.ErrDeviceBusy, path, err)
	}
}

// stream wraps a VideoCapture with a reusable Mat.
type stream struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	frame  gocv.Mat
	closed bool
}

// Read grabs the newest frame and converts it to an image.Image.
func (s *stream) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, camera.ErrNoStream
	}
	if !s.vc.Read(&s.frame) {
		return nil, fmt.Errorf("read frame: %w", camera.ErrEmptyFrame)
	}
	if s.frame.Empty() {
		return nil, camera.ErrEmptyFrame
	}
	return s.frame.ToImage()
}

// Resolution returns the size the driver actually negotiated.
func (s *stream) Resolution() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0
	}
	if !s.frame.Empty() {
		return s.frame.Cols(), s.frame.Rows()
	}
	return int(s.vc.Get(gocv.VideoCaptureFrameWidth)), int(s.vc.Get(gocv.VideoCaptureFrameHeight))
}

// Close releases the capture device. Safe to call more than once.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.frame.Close()
	return s.vc.Close()
}

// Verify Device implements camera.Device at compile time.
var _ camera.Device = (*Device)(nil)
