package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-feedscan/pkg/capture"
)

// Mock implements Classifier for testing.
type Mock struct {
	// ClassifyFunc is called when Classify is invoked.
	ClassifyFunc func(ctx context.Context, img *capture.Image) (string, error)

	// Delay is slept (or the context waited on) before ClassifyFunc runs.
	Delay time.Duration

	mu    sync.Mutex
	calls []MockCall

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

// MockCall records a Classify invocation.
type MockCall struct {
	MIMEType string
	Bytes    int
	Time     time.Time
}

// NewMock creates a classifier that always returns label.
func NewMock(label string) *Mock {
	return &Mock{
		ClassifyFunc: func(ctx context.Context, img *capture.Image) (string, error) {
			return label, nil
		},
	}
}

// MockWithError returns a classifier that always fails with err.
func MockWithError(err error) *Mock {
	return &Mock{
		ClassifyFunc: func(ctx context.Context, img *capture.Image) (string, error) {
			return "", err
		},
	}
}

// Classify records the call and delegates to ClassifyFunc.
func (m *Mock) Classify(ctx context.Context, img *capture.Image) (string, error) {
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		peak := m.maxInflight.Load()
		if n <= peak || m.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{MIMEType: img.MIMEType, Bytes: img.Size(), Time: time.Now()})
	fn := m.ClassifyFunc
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", NewNetworkError(ctx.Err())
		}
	}

	if fn == nil {
		return FallbackLabel, nil
	}
	return fn(ctx, img)
}

// CallCount returns the number of Classify calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MaxInflight returns the highest number of concurrent Classify calls seen.
func (m *Mock) MaxInflight() int64 {
	return m.maxInflight.Load()
}

// SetFunc swaps ClassifyFunc.
func (m *Mock) SetFunc(fn func(ctx context.Context, img *capture.Image) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClassifyFunc = fn
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Verify Mock implements Classifier at compile time.
var _ Classifier = (*Mock)(nil)
