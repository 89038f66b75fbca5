// Package session owns the inspection session state and the transitions
// between camera and upload modes.
//
// State values are immutable: every transition builds a new State from the
// previous one through a pure function in transitions.go, and the Machine
// swaps it in under its lock. Observers read snapshots and never mutate.
package session

import (
	"time"

	"github.com/teslashibe/go-feedscan/pkg/dispatch"
)

// Mode is the input source.
type Mode string

const (
	ModeCamera Mode = "camera"
	ModeUpload Mode = "upload"
)

// Phase is the derived state-machine state.
type Phase string

const (
	PhaseCameraManual Phase = "camera_manual"
	PhaseCameraLive   Phase = "camera_live"
	PhaseUpload       Phase = "upload"
)

// Status lines shown to the operator.
const (
	StatusReady       = "ready"
	StatusNoCamera    = "camera unavailable"
	StatusAnalyzing   = "analyzing..."
	StatusLive        = "live scan"
	StatusDone        = "done"
	StatusNetworkFail = "connection error"
)

// State is one immutable snapshot of the session.
type State struct {
	Mode        Mode `json:"mode"`
	LiveEnabled bool `json:"live_enabled"`
	Busy        bool `json:"busy"`

	// LastResult is the most recent label, nil before the first one.
	LastResult *string `json:"last_result"`

	// LastError is the most recent unresolved failure.
	LastError *dispatch.Error `json:"last_error"`

	// CameraHeld reports whether a camera stream is held. The stream itself
	// stays inside camera.Session.
	CameraHeld bool `json:"camera_held"`

	// Generation advances on every change of input context; outcomes of
	// older generations are discarded.
	Generation uint64 `json:"generation"`

	// CapturedAt is when the image behind LastResult was taken.
	CapturedAt time.Time `json:"captured_at,omitzero"`

	// Status is the operator-facing status line.
	Status string `json:"status"`
}

// Phase returns the state-machine state.
func (s State) Phase() Phase {
	switch {
	case s.Mode == ModeUpload:
		return PhaseUpload
	case s.LiveEnabled:
		return PhaseCameraLive
	default:
		return PhaseCameraManual
	}
}

// CanCapture reports whether a manual shutter press is accepted.
func (s State) CanCapture() bool {
	return s.Mode == ModeCamera && s.CameraHeld && !s.LiveEnabled && !s.Busy
}

// Degraded reports camera mode without a stream.
func (s State) Degraded() bool {
	return s.Mode == ModeCamera && !s.CameraHeld
}

// Result returns LastResult or "".
func (s State) Result() string {
	if s.LastResult == nil {
		return ""
	}
	return *s.LastResult
}
