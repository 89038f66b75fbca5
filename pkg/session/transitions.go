package session

import (
	"time"

	"github.com/teslashibe/go-feedscan/pkg/dispatch"
)

// Pure transition functions. Each takes the current State by value and
// returns the next one; none has side effects.

func initialState() State {
	return State{Mode: ModeUpload, Status: StatusReady}
}

// enterCamera is a successful camera acquisition under generation gen.
func enterCamera(s State, gen uint64) State {
	s.Mode = ModeCamera
	s.CameraHeld = true
	s.LiveEnabled = false
	s.Busy = false
	s.LastError = nil
	s.Generation = gen
	s.Status = StatusReady
	return s
}

// cameraFailed leaves the session in camera mode without a stream.
func cameraFailed(s State, gen uint64, err *dispatch.Error) State {
	s.Mode = ModeCamera
	s.CameraHeld = false
	s.LiveEnabled = false
	s.Busy = false
	s.LastError = err
	s.Generation = gen
	s.Status = statusForError(err)
	return s
}

// cameraLost is a read failure on a held stream. Live scanning stops and the
// session degrades until the camera is acquired again.
func cameraLost(s State, err *dispatch.Error) State {
	s.CameraHeld = false
	s.LiveEnabled = false
	s.LastError = err
	s.Status = statusForError(err)
	return s
}

// enterUpload switches to upload mode under generation gen. Any request of
// the previous generation stops counting as busy.
func enterUpload(s State, gen uint64) State {
	s.Mode = ModeUpload
	s.CameraHeld = false
	s.LiveEnabled = false
	s.Busy = false
	s.LastError = nil
	s.Generation = gen
	s.Status = StatusReady
	return s
}

func setLive(s State, on bool) State {
	s.LiveEnabled = on
	if on {
		s.Status = StatusLive
	} else if !s.Busy {
		s.Status = StatusReady
	}
	return s
}

func requestStarted(s State) State {
	s.Busy = true
	s.LastError = nil
	s.Status = StatusAnalyzing
	return s
}

// outcomeApplied records a completed request of the current generation.
// stillBusy is true when a newer request is already outstanding.
func outcomeApplied(s State, out dispatch.Outcome, capturedAt time.Time, stillBusy bool) State {
	s.Busy = stillBusy
	if out.OK() {
		label := out.Label
		s.LastResult = &label
		s.LastError = nil
		s.CapturedAt = capturedAt
		s.Status = StatusDone
		if s.LiveEnabled {
			s.Status = StatusLive
		}
	} else {
		s.LastError = out.Err
		s.Status = statusForError(out.Err)
	}
	if stillBusy {
		s.Status = StatusAnalyzing
	}
	return s
}

// rejected surfaces a submission that could not be dispatched.
func rejected(s State, err *dispatch.Error) State {
	s.LastError = err
	s.Status = statusForError(err)
	return s
}

// closedState is the session after teardown.
func closedState(s State, gen uint64) State {
	s.CameraHeld = false
	s.LiveEnabled = false
	s.Busy = false
	s.Generation = gen
	s.Status = "closed"
	return s
}

func statusForError(err *dispatch.Error) string {
	if err == nil {
		return StatusReady
	}
	switch err.Kind {
	case dispatch.NetworkError:
		return StatusNetworkFail
	case dispatch.CameraError:
		return StatusNoCamera + ": " + err.Message
	default:
		return "error: " + err.Message
	}
}
