package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-feedscan/internal/log"
	"github.com/teslashibe/go-feedscan/pkg/camera"
	"github.com/teslashibe/go-feedscan/pkg/capture"
	"github.com/teslashibe/go-feedscan/pkg/dispatch"
)

const waitTimeout = 2 * time.Second

type fixture struct {
	m   *Machine
	dev *camera.Mock
	cls *dispatch.Mock
	d   *dispatch.Dispatcher
}

func newFixture(t *testing.T, cls *dispatch.Mock, opts ...Option) *fixture {
	t.Helper()
	dev := camera.NewMock()
	cam := camera.NewSession(dev, log.Discard())
	d := dispatch.New(cls, dispatch.WithLogger(log.Discard()))
	m := New(cam, d, append([]Option{WithLogger(log.Discard())}, opts...)...)
	t.Cleanup(m.Close)
	return &fixture{m: m, dev: dev, cls: cls, d: d}
}

// gate returns a classify func that blocks until release is called.
func gate(label string) (func(context.Context, *capture.Image) (string, error), func()) {
	ch := make(chan struct{})
	var once sync.Once
	return func(ctx context.Context, img *capture.Image) (string, error) {
			<-ch
			return label, nil
		}, func() {
			once.Do(func() { close(ch) })
		}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func eventually(t *testing.T, m *Machine, cond func(State) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(m.State()) }, waitTimeout, 5*time.Millisecond, msg)
}

func idleWithResult(label string) func(State) bool {
	return func(s State) bool { return !s.Busy && s.Result() == label }
}

func TestInitialState(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"))

	s := f.m.State()
	assert.Equal(t, ModeUpload, s.Mode)
	assert.Equal(t, PhaseUpload, s.Phase())
	assert.False(t, s.CameraHeld)
	assert.False(t, s.Busy)
	assert.Nil(t, s.LastResult)
	assert.Nil(t, s.LastError)
	assert.Equal(t, 0, f.dev.OpenCount())
}

func TestToCamera(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"))

	require.NoError(t, f.m.ToCamera(context.Background()))
	s := f.m.State()
	assert.Equal(t, PhaseCameraManual, s.Phase())
	assert.True(t, s.CameraHeld)
	assert.True(t, s.CanCapture())

	// Already held: nothing to do.
	require.NoError(t, f.m.ToCamera(context.Background()))
	assert.Equal(t, 1, f.dev.OpenCount())
	assert.Equal(t, s.Generation, f.m.State().Generation)
}

// Camera permission denied: the error is recorded, no stream is held and
// upload mode is still reachable.
func TestCameraPermissionDenied(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"))
	f.dev.SetOpenFunc(func(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
		return nil, camera.NewError(camera.ErrPermissionDenied, c.Device, nil)
	})

	err := f.m.ToCamera(context.Background())
	require.ErrorIs(t, err, camera.ErrPermissionDenied)

	s := f.m.State()
	require.NotNil(t, s.LastError)
	assert.Equal(t, dispatch.CameraError, s.LastError.Kind)
	assert.Equal(t, ModeCamera, s.Mode)
	assert.False(t, s.CameraHeld)
	assert.True(t, s.Degraded())
	assert.False(t, s.CanCapture(), "shutter must be disabled")

	assert.ErrorIs(t, f.m.ManualCapture(context.Background()), ErrCameraUnavailable)
	assert.ErrorIs(t, f.m.ToggleLive(), ErrCameraUnavailable)

	require.NoError(t, f.m.ToUpload())
	s = f.m.State()
	assert.Equal(t, ModeUpload, s.Mode)
	assert.Nil(t, s.LastError)
	assert.Equal(t, 0, f.cls.CallCount())
}

func TestToCameraRetryClearsError(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"))
	f.dev.SetOpenFunc(func(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
		return nil, camera.NewError(camera.ErrDeviceBusy, c.Device, nil)
	})
	require.Error(t, f.m.ToCamera(context.Background()))
	require.NotNil(t, f.m.State().LastError)

	f.dev.SetOpenFunc(nil)
	require.NoError(t, f.m.ToCamera(context.Background()))

	s := f.m.State()
	assert.Nil(t, s.LastError)
	assert.True(t, s.CameraHeld)
	assert.Equal(t, StatusReady, s.Status)
}

// Shutter press in manual mode while idle: exactly one request, result
// recorded.
func TestManualCapture(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("CORN SILAGE - good fermentation"))
	require.NoError(t, f.m.ToCamera(context.Background()))

	require.NoError(t, f.m.ManualCapture(context.Background()))
	eventually(t, f.m, idleWithResult("CORN SILAGE - good fermentation"), "label never applied")

	assert.Equal(t, 1, f.cls.CallCount())
	s := f.m.State()
	assert.Nil(t, s.LastError)
	assert.Equal(t, StatusDone, s.Status)
	assert.False(t, s.CapturedAt.IsZero())

	calls := f.cls.Calls()
	assert.Equal(t, capture.MIMEJPEG, calls[0].MIMEType)
}

func TestManualCaptureRejectedWhileBusy(t *testing.T) {
	fn, release := gate("HAY - dry")
	defer release()
	f := newFixture(t, &dispatch.Mock{ClassifyFunc: fn})
	require.NoError(t, f.m.ToCamera(context.Background()))

	require.NoError(t, f.m.ManualCapture(context.Background()))
	assert.True(t, f.m.State().Busy)
	assert.False(t, f.m.State().CanCapture())

	err := f.m.ManualCapture(context.Background())
	var de *dispatch.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, dispatch.Busy, de.Kind)

	release()
	eventually(t, f.m, idleWithResult("HAY - dry"), "outcome not applied")
	assert.Equal(t, 1, f.cls.CallCount())
}

func TestManualCaptureInvalidModes(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"), WithInterval(time.Hour))

	assert.ErrorIs(t, f.m.ManualCapture(context.Background()), ErrInvalidTransition, "upload mode")

	require.NoError(t, f.m.ToCamera(context.Background()))
	require.NoError(t, f.m.ToggleLive())
	assert.ErrorIs(t, f.m.ManualCapture(context.Background()), ErrInvalidTransition, "live mode")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.m.ManualCapture(ctx), context.Canceled)
	assert.Equal(t, 0, f.cls.CallCount())
}

func TestToUploadExclusivity(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"), WithInterval(time.Hour))
	require.NoError(t, f.m.ToCamera(context.Background()))
	require.NoError(t, f.m.ToggleLive())
	require.True(t, f.m.scheduler.Running())
	require.Equal(t, PhaseCameraLive, f.m.State().Phase())

	genBefore := f.m.State().Generation
	require.NoError(t, f.m.ToUpload())

	s := f.m.State()
	assert.Equal(t, PhaseUpload, s.Phase())
	assert.False(t, s.LiveEnabled)
	assert.False(t, s.CameraHeld)
	assert.False(t, f.m.scheduler.Running(), "scheduler must be stopped")
	assert.Equal(t, 0, f.dev.OpenStreams(), "camera must be released")
	assert.Greater(t, s.Generation, genBefore)

	// Idempotent.
	require.NoError(t, f.m.ToUpload())
	assert.Equal(t, s.Generation, f.m.State().Generation)
}

func TestToggleLive(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"), WithInterval(time.Hour))

	assert.ErrorIs(t, f.m.ToggleLive(), ErrInvalidTransition)

	require.NoError(t, f.m.ToCamera(context.Background()))
	gen := f.m.State().Generation

	require.NoError(t, f.m.ToggleLive())
	assert.True(t, f.m.State().LiveEnabled)
	assert.True(t, f.m.scheduler.Running())

	require.NoError(t, f.m.ToggleLive())
	assert.False(t, f.m.State().LiveEnabled)
	assert.False(t, f.m.scheduler.Running())
	assert.Equal(t, gen, f.m.State().Generation, "live toggling keeps the generation")

	require.NoError(t, f.m.SetLive(true))
	require.NoError(t, f.m.SetLive(true))
	assert.True(t, f.m.State().LiveEnabled)
}

func TestLiveScan(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("WHEAT STRAW - clean"), WithInterval(100*time.Millisecond))
	require.NoError(t, f.m.ToCamera(context.Background()))
	require.NoError(t, f.m.ToggleLive())

	eventually(t, f.m, func(s State) bool { return s.Result() == "WHEAT STRAW - clean" }, "live tick never produced a label")
	assert.Equal(t, StatusLive, f.m.State().Status)
	assert.GreaterOrEqual(t, f.m.ScanStats().Fired, uint64(1))

	require.NoError(t, f.m.ToggleLive())
	eventually(t, f.m, func(s State) bool { return !s.Busy }, "request still outstanding")
	n := f.cls.CallCount()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, n, f.cls.CallCount(), "no ticks after live is disabled")
	assert.Equal(t, capture.MIMEJPEG, f.cls.Calls()[0].MIMEType)
}

// Live mode at a short interval with a slow service: ticks are dropped and
// nothing errors.
func TestLiveScanSlowService(t *testing.T) {
	cls := dispatch.NewMock("BARLEY - sound")
	cls.Delay = 400 * time.Millisecond
	f := newFixture(t, cls, WithInterval(150*time.Millisecond))

	require.NoError(t, f.m.ToCamera(context.Background()))
	require.NoError(t, f.m.ToggleLive())
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, f.m.ToggleLive())

	assert.GreaterOrEqual(t, f.m.ScanStats().Dropped, uint64(1))
	assert.Equal(t, int64(1), cls.MaxInflight())
	assert.Nil(t, f.m.State().LastError)
}

// Upload after switching away from a camera request that is still running:
// the upload dispatches despite the stale busy flag, and the camera result
// is discarded when it finally arrives.
func TestUploadAfterModeSwitchMidFlight(t *testing.T) {
	staleFn, releaseStale := gate("STALE CAMERA LABEL")
	defer releaseStale()

	var calls atomic.Int32
	cls := &dispatch.Mock{}
	cls.SetFunc(func(ctx context.Context, img *capture.Image) (string, error) {
		if calls.Add(1) == 1 {
			return staleFn(ctx, img)
		}
		return "SOYBEAN HULLS - normal", nil
	})
	f := newFixture(t, cls)

	require.NoError(t, f.m.ToCamera(context.Background()))
	require.NoError(t, f.m.ManualCapture(context.Background()))
	require.True(t, f.m.State().Busy)
	staleGen := f.m.State().Generation

	require.NoError(t, f.m.ToUpload())
	assert.False(t, f.m.State().Busy, "busy must not carry across generations")

	require.NoError(t, f.m.FileSelected(context.Background(), pngBytes(t)))
	eventually(t, f.m, idleWithResult("SOYBEAN HULLS - normal"), "upload outcome not applied")
	assert.Equal(t, 2, cls.CallCount())
	assert.Equal(t, "image/png", cls.Calls()[1].MIMEType)

	var seen []State
	var mu sync.Mutex
	unsub := f.m.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unsub()

	releaseStale()
	time.Sleep(100 * time.Millisecond)

	s := f.m.State()
	assert.Equal(t, "SOYBEAN HULLS - normal", s.Result(), "stale camera result must be discarded")
	assert.Equal(t, ModeUpload, s.Mode)
	assert.NotEqual(t, staleGen, s.Generation)
	mu.Lock()
	assert.Empty(t, seen, "discarded outcome must not produce a transition")
	mu.Unlock()
}

func TestFileSelectedBusyIsSurfaced(t *testing.T) {
	fn, release := gate("FIRST")
	defer release()
	f := newFixture(t, &dispatch.Mock{ClassifyFunc: fn})

	require.NoError(t, f.m.FileSelected(context.Background(), pngBytes(t)))

	err := f.m.FileSelected(context.Background(), pngBytes(t))
	var de *dispatch.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, dispatch.Busy, de.Kind)

	s := f.m.State()
	require.NotNil(t, s.LastError, "rejection must not be silent")
	assert.Equal(t, dispatch.Busy, s.LastError.Kind)
	assert.True(t, s.Busy)

	release()
	eventually(t, f.m, idleWithResult("FIRST"), "first upload never applied")
	assert.Nil(t, f.m.State().LastError)
	assert.Equal(t, 1, f.cls.CallCount())
}

func TestFileSelectedValidation(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"))

	assert.ErrorIs(t, f.m.FileSelected(context.Background(), []byte("not an image")), capture.ErrUnsupportedFormat)

	require.NoError(t, f.m.ToCamera(context.Background()))
	assert.ErrorIs(t, f.m.FileSelected(context.Background(), pngBytes(t)), ErrInvalidTransition)
	assert.Equal(t, 0, f.cls.CallCount())
}

func TestOutcomeErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   dispatch.ErrorKind
		status string
	}{
		{"network", errors.New("connection refused"), dispatch.NetworkError, StatusNetworkFail},
		{"service", dispatch.NewServiceError(500, "internal server error"), dispatch.ServiceError, "error: internal server error"},
		{"service without message", dispatch.NewServiceError(502, ""), dispatch.ServiceError, "error: " + dispatch.DefaultServiceMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, dispatch.MockWithError(tt.err))
			require.NoError(t, f.m.FileSelected(context.Background(), pngBytes(t)))
			eventually(t, f.m, func(s State) bool { return !s.Busy && s.LastError != nil }, "error not applied")

			s := f.m.State()
			assert.Equal(t, tt.kind, s.LastError.Kind)
			assert.Equal(t, tt.status, s.Status)
			assert.Nil(t, s.LastResult)

			// The loop stays usable.
			f.cls.SetFunc(func(ctx context.Context, img *capture.Image) (string, error) { return "OK", nil })
			require.NoError(t, f.m.FileSelected(context.Background(), pngBytes(t)))
			eventually(t, f.m, idleWithResult("OK"), "retry failed")
			assert.Nil(t, f.m.State().LastError)
		})
	}
}

func TestCameraReadFailureDegrades(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"))
	require.NoError(t, f.m.ToCamera(context.Background()))
	f.dev.Streams()[0].ReadErr = camera.ErrEmptyFrame

	err := f.m.ManualCapture(context.Background())
	require.ErrorIs(t, err, camera.ErrEmptyFrame)

	s := f.m.State()
	require.NotNil(t, s.LastError)
	assert.Equal(t, dispatch.CameraError, s.LastError.Kind)
	assert.False(t, s.CameraHeld)
	assert.Equal(t, 0, f.dev.OpenStreams())
	assert.Equal(t, 0, f.cls.CallCount())

	require.NoError(t, f.m.ToCamera(context.Background()), "retry re-acquires")
	assert.True(t, f.m.State().CameraHeld)
	assert.Nil(t, f.m.State().LastError)
}

// Repeated submissions of the same image are applied in the order issued.
func TestOutcomesAppliedInOrder(t *testing.T) {
	var n atomic.Int32
	cls := &dispatch.Mock{}
	cls.SetFunc(func(ctx context.Context, img *capture.Image) (string, error) {
		return fmt.Sprintf("label-%d", n.Add(1)), nil
	})
	f := newFixture(t, cls)
	require.NoError(t, f.m.ToCamera(context.Background()))

	var mu sync.Mutex
	var results []string
	f.m.Subscribe(func(s State) {
		if !s.Busy && s.LastResult != nil {
			mu.Lock()
			results = append(results, *s.LastResult)
			mu.Unlock()
		}
	})

	for i := 1; i <= 5; i++ {
		require.NoError(t, f.m.ManualCapture(context.Background()))
		eventually(t, f.m, idleWithResult(fmt.Sprintf("label-%d", i)), "outcome not applied")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"label-1", "label-2", "label-3", "label-4", "label-5"}, results)
}

// Hammering the machine from several goroutines never puts more than one
// request in flight.
func TestSingleFlightAcrossActions(t *testing.T) {
	cls := dispatch.NewMock("x")
	cls.Delay = 20 * time.Millisecond
	f := newFixture(t, cls, WithInterval(100*time.Millisecond))
	require.NoError(t, f.m.ToCamera(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				switch (i + j) % 4 {
				case 0:
					f.m.ManualCapture(context.Background())
				case 1:
					f.m.ToggleLive()
				case 2:
					f.m.ToCamera(context.Background())
				case 3:
					f.m.State()
				}
				time.Sleep(2 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// Mode switches are excluded, so every request belongs to one
	// generation and the single-flight bound is global.
	assert.LessOrEqual(t, cls.MaxInflight(), int64(1))
}

func TestClose(t *testing.T) {
	fn, release := gate("LATE")
	defer release()
	f := newFixture(t, &dispatch.Mock{ClassifyFunc: fn})
	require.NoError(t, f.m.ToCamera(context.Background()))
	require.NoError(t, f.m.ManualCapture(context.Background()))

	f.m.Close()
	f.m.Close()

	s := f.m.State()
	assert.False(t, s.CameraHeld)
	assert.False(t, s.Busy)
	assert.Equal(t, 0, f.dev.OpenStreams())

	assert.ErrorIs(t, f.m.ToCamera(context.Background()), ErrClosed)
	assert.ErrorIs(t, f.m.ToUpload(), ErrClosed)
	assert.ErrorIs(t, f.m.ToggleLive(), ErrClosed)

	release()
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, f.m.State().LastResult, "outcome after Close must be discarded")
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t, dispatch.NewMock("x"))

	var count atomic.Int32
	unsub := f.m.Subscribe(func(State) { count.Add(1) })
	require.NoError(t, f.m.ToCamera(context.Background()))
	assert.Equal(t, int32(1), count.Load())

	unsub()
	require.NoError(t, f.m.ToUpload())
	assert.Equal(t, int32(1), count.Load())
}
