// Package camera acquires and releases live video sources for feedscan.
//
// A Session owns at most one Stream at a time. The Stream is produced by a
// Device backend (see pkg/camera/gocvcam for real hardware, Mock for tests)
// from a set of Constraints that describe what the caller would like; the
// backend may deliver something different, so consumers must always ask the
// Stream for its actual resolution.
package camera

import "strconv"

// Facing is the preferred camera direction.
type Facing string

const (
	// FacingEnvironment is the rear camera on handheld devices.
	FacingEnvironment Facing = "environment"
	// FacingUser is the front camera.
	FacingUser Facing = "user"
)

// Constraints describe the preferred video source. None of the values are
// guaranteed.
type Constraints struct {
	// Facing is the preferred direction.
	Facing Facing `json:"facing"`

	// Width and Height are the ideal frame size in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Framerate is the target FPS (0 = backend default).
	Framerate int `json:"framerate"`

	// Device selects a specific source: a device index ("0") or a stream
	// URL. Empty lets the backend choose from Facing.
	Device string `json:"device,omitempty"`
}

// Limits accepted by Validate.
const (
	MinWidth     = 160
	MinHeight    = 120
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConstraints returns the rear camera at an ideal 1280x720.
func DefaultConstraints() Constraints {
	return Constraints{
		Facing:    FacingEnvironment,
		Width:     1280,
		Height:    720,
		Framerate: 30,
	}
}

// DeviceIndex returns the numeric device index, if Device is one.
func (c Constraints) DeviceIndex() (int, bool) {
	if c.Device == "" {
		return 0, false
	}
	i, err := strconv.Atoi(c.Device)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Validate checks if the constraint values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Constraints) Validate() []string {
	var errors []string

	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 0 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 0 and 120")
	}
	if c.Facing != "" && c.Facing != FacingEnvironment && c.Facing != FacingUser {
		errors = append(errors, "facing must be environment or user")
	}

	return errors
}
