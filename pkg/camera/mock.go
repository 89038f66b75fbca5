package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
)

// Mock implements Device for testing.
// By default it opens a MockStream at the requested resolution.
type Mock struct {
	// OpenFunc overrides Open when set.
	OpenFunc func(ctx context.Context, c Constraints) (Stream, error)

	// Width and Height, when non-zero, replace the requested resolution
	// to simulate a device that ignores the ideal size.
	Width, Height int

	mu      sync.Mutex
	opens   int
	streams []*MockStream
}

// NewMock creates a mock device.
func NewMock() *Mock {
	return &Mock{}
}

// MockWithError returns a device whose Open always fails with err.
func MockWithError(err error) *Mock {
	return &Mock{
		OpenFunc: func(ctx context.Context, c Constraints) (Stream, error) {
			return nil, err
		},
	}
}

// Open records the call and returns a stream.
func (m *Mock) Open(ctx context.Context, c Constraints) (Stream, error) {
	m.mu.Lock()
	m.opens++
	openFunc := m.OpenFunc
	m.mu.Unlock()

	if openFunc != nil {
		return openFunc(ctx, c)
	}

	w, h := c.Width, c.Height
	if m.Width > 0 && m.Height > 0 {
		w, h = m.Width, m.Height
	}
	s := NewMockStream(w, h)

	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// Name returns "mock".
func (m *Mock) Name() string {
	return "mock"
}

// OpenCount returns the number of Open calls.
func (m *Mock) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Streams returns every stream opened by the default Open path.
func (m *Mock) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// OpenStreams returns how many streams are still open.
func (m *Mock) OpenStreams() int {
	n := 0
	for _, s := range m.Streams() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// SetOpenFunc swaps the Open behaviour.
func (m *Mock) SetOpenFunc(fn func(ctx context.Context, c Constraints) (Stream, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenFunc = fn
}

// MockStream is an in-memory Stream producing a flat grey frame.
type MockStream struct {
	width, height int

	// ReadErr, when set, is returned by Read.
	ReadErr error

	reads  atomic.Int64
	closes atomic.Int64
}

// NewMockStream creates a stream delivering frames of w x h.
func NewMockStream(w, h int) *MockStream {
	return &MockStream{width: w, height: h}
}

// Read returns a frame, or ErrNoStream once closed.
func (s *MockStream) Read() (image.Image, error) {
	if s.Closed() {
		return nil, ErrNoStream
	}
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	s.reads.Add(1)

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	fill := color.RGBA{R: 196, G: 164, B: 96, A: 255}
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	return img, nil
}

// Resolution returns the delivered frame size.
func (s *MockStream) Resolution() (int, int) {
	return s.width, s.height
}

// Close marks the stream closed.
func (s *MockStream) Close() error {
	s.closes.Add(1)
	return nil
}

// Closed reports whether Close was called.
func (s *MockStream) Closed() bool {
	return s.closes.Load() > 0
}

// Reads returns the number of successful reads.
func (s *MockStream) Reads() int64 {
	return s.reads.Load()
}

// Verify Mock implements Device at compile time.
var _ Device = (*Mock)(nil)
var _ Stream = (*MockStream)(nil)
