package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-feedscan/pkg/camera"
	"github.com/teslashibe/go-feedscan/pkg/capture"
	"github.com/teslashibe/go-feedscan/pkg/dispatch"
	"github.com/teslashibe/go-feedscan/pkg/scan"
)

// Machine is the mode state machine. It owns the session State and is the
// only component that starts or stops the camera and the live scheduler.
//
// Transitions are serialised; every method is safe for concurrent use.
// Methods return as soon as a request is dispatched, outcomes are applied
// in the background and announced to subscribers.
type Machine struct {
	camera     *camera.Session
	dispatcher *dispatch.Dispatcher
	scheduler  *scan.Scheduler
	logger     *slog.Logger

	constraints   camera.Constraints
	interval      time.Duration
	liveQuality   float64
	manualQuality float64

	// ctx bounds outstanding requests; cancelled by Close only.
	ctx    context.Context
	cancel context.CancelFunc

	opMu    sync.Mutex
	pending uuid.UUID
	closed  bool

	stateMu sync.RWMutex
	state   State

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// Option configures a Machine.
type Option func(*Machine)

// WithConstraints sets the camera constraints used by ToCamera.
func WithConstraints(c camera.Constraints) Option {
	return func(m *Machine) {
		m.constraints = c
	}
}

// WithInterval sets the live-scan interval.
func WithInterval(d time.Duration) Option {
	return func(m *Machine) {
		m.interval = d
	}
}

// WithQualities sets the JPEG qualities for live and manual captures.
func WithQualities(live, manual float64) Option {
	return func(m *Machine) {
		m.liveQuality = live
		m.manualQuality = manual
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

// New creates a machine in upload mode with no camera held. Call ToCamera
// to start the camera.
func New(cam *camera.Session, d *dispatch.Dispatcher, opts ...Option) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		camera:        cam,
		dispatcher:    d,
		logger:        slog.Default(),
		constraints:   camera.DefaultConstraints(),
		interval:      scan.DefaultInterval,
		liveQuality:   capture.LiveQuality,
		manualQuality: capture.ManualQuality,
		ctx:           ctx,
		cancel:        cancel,
		subs:          make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.scheduler = scan.New(scan.WithBusy(d.Busy), scan.WithLogger(m.logger))
	m.logger = m.logger.With("component", "session")

	st := initialState()
	st.Generation = d.Generation()
	m.state = st
	return m
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// ScanStats returns the live scheduler's counters.
func (m *Machine) ScanStats() scan.Stats {
	return m.scheduler.Stats()
}

// Subscribe registers fn to receive every new State. fn runs while the
// transition lock is held and must not call back into the Machine. The
// returned func unsubscribes.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// ToCamera enters camera mode. If a stream is already held in camera mode
// it does nothing; otherwise it acquires one, which is also how a degraded
// session retries. A failed acquisition leaves the session in camera mode
// without a stream and LastError set to a CameraError; the error is also
// returned.
func (m *Machine) ToCamera(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	cur := m.State()
	if cur.Mode == ModeCamera && m.camera.Held() {
		return nil
	}

	gen := m.dispatcher.Advance()
	m.pending = uuid.Nil

	if _, err := m.camera.Acquire(ctx, m.constraints); err != nil {
		m.setLocked(cameraFailed(cur, gen, dispatch.NewCameraError(err)))
		return err
	}

	m.setLocked(enterCamera(cur, gen))
	return nil
}

// ToUpload leaves camera mode: live scanning stops, the camera is released
// and a new generation begins. It is a no-op in upload mode.
func (m *Machine) ToUpload() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	cur := m.State()
	if cur.Mode == ModeUpload {
		return nil
	}

	m.scheduler.Stop()
	m.camera.Release()
	gen := m.dispatcher.Advance()
	m.pending = uuid.Nil

	m.setLocked(enterUpload(cur, gen))
	return nil
}

// ToggleLive flips live scanning. It is only valid in camera mode, and
// enabling requires a held stream.
func (m *Machine) ToggleLive() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.toggleLiveLocked()
}

// SetLive enables or disables live scanning; no-op if already in that
// state.
func (m *Machine) SetLive(enabled bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.State().LiveEnabled == enabled {
		if m.State().Mode != ModeCamera {
			return ErrInvalidTransition
		}
		return nil
	}
	return m.toggleLiveLocked()
}

func (m *Machine) toggleLiveLocked() error {
	if m.closed {
		return ErrClosed
	}
	cur := m.State()
	if cur.Mode != ModeCamera {
		return fmt.Errorf("%w: live scan requires camera mode", ErrInvalidTransition)
	}

	if cur.LiveEnabled {
		m.scheduler.Stop()
		m.setLocked(setLive(cur, false))
		return nil
	}

	if !m.camera.Held() {
		return ErrCameraUnavailable
	}
	if err := m.scheduler.Start(m.interval, m.liveTick); err != nil {
		return err
	}
	m.setLocked(setLive(cur, true))
	return nil
}

// ManualCapture runs one capture and dispatch cycle. It needs camera mode
// with a held stream, live scanning off and no request outstanding.
func (m *Machine) ManualCapture(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	cur := m.State()
	switch {
	case cur.Mode != ModeCamera || cur.LiveEnabled:
		return fmt.Errorf("%w: shutter requires manual camera mode", ErrInvalidTransition)
	case !m.camera.Held():
		return ErrCameraUnavailable
	case cur.Busy:
		return dispatch.NewBusyError()
	}

	img, err := capture.CaptureFrame(m.camera.Stream(), m.manualQuality)
	if err != nil {
		m.cameraLostLocked(err)
		return err
	}
	return m.dispatchLocked(img)
}

// FileSelected encodes an uploaded file and dispatches it at once. It is
// only valid in upload mode and is not subject to live-tick busy gating;
// a rejection is surfaced in LastError rather than dropped.
func (m *Machine) FileSelected(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.State().Mode != ModeUpload {
		return fmt.Errorf("%w: file selection requires upload mode", ErrInvalidTransition)
	}

	img, err := capture.EncodeFile(data)
	if err != nil {
		return err
	}
	if err := m.dispatchLocked(img); err != nil {
		var de *dispatch.Error
		if errors.As(err, &de) {
			m.setLocked(rejected(m.State(), de))
		}
		return err
	}
	return nil
}

// Close ends the session: live scanning stops, the camera is released and
// any outstanding outcome is discarded. Safe to call more than once.
func (m *Machine) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	m.scheduler.Stop()
	m.camera.Release()
	gen := m.dispatcher.Advance()
	m.pending = uuid.Nil
	m.cancel()

	m.setLocked(closedState(m.State(), gen))
	m.logger.Info("session closed")
}

// liveTick is the scheduler's tick. The scheduler has already checked busy.
func (m *Machine) liveTick(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	// Stopped while waiting for the lock.
	if ctx.Err() != nil || m.closed {
		return
	}
	cur := m.State()
	if cur.Mode != ModeCamera || !cur.LiveEnabled {
		return
	}

	img, err := capture.CaptureFrame(m.camera.Stream(), m.liveQuality)
	if err != nil {
		m.cameraLostLocked(err)
		return
	}
	if err := m.dispatchLocked(img); err != nil {
		// Lost the race with a request that had just been submitted.
		m.logger.Debug("live tick rejected", "error", err)
	}
}

// dispatchLocked hands img to the dispatcher. The outcome is applied by
// apply unless its generation has moved on.
func (m *Machine) dispatchLocked(img *capture.Image) error {
	capturedAt := img.CapturedAt
	id, ok := m.dispatcher.Go(m.ctx, img, func(out dispatch.Outcome) {
		m.apply(out, capturedAt)
	})
	if !ok {
		return dispatch.NewBusyError()
	}

	m.pending = id
	m.setLocked(requestStarted(m.State()))
	return nil
}

func (m *Machine) apply(out dispatch.Outcome, capturedAt time.Time) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	cur := m.State()
	if m.closed || out.Generation != cur.Generation {
		m.logger.Info("discarding stale outcome",
			"request_id", out.RequestID,
			"generation", out.Generation,
			"current", cur.Generation,
		)
		return
	}

	stillBusy := m.pending != uuid.Nil && m.pending != out.RequestID
	if !stillBusy {
		m.pending = uuid.Nil
	}
	m.setLocked(outcomeApplied(cur, out, capturedAt, stillBusy))
}

// cameraLostLocked handles a read failure on the held stream.
func (m *Machine) cameraLostLocked(err error) {
	m.logger.Warn("camera read failed, releasing stream", "error", err)
	m.scheduler.Stop()
	m.camera.Release()
	m.setLocked(cameraLost(m.State(), dispatch.NewCameraError(err)))
}

func (m *Machine) setLocked(s State) {
	m.stateMu.Lock()
	prev := m.state
	m.state = s
	m.stateMu.Unlock()

	if prev.Phase() != s.Phase() {
		m.logger.Info("transition", "from", prev.Phase(), "to", s.Phase(), "generation", s.Generation)
	}

	m.subMu.Lock()
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
