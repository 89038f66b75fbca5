// Package scan runs the periodic live-scan loop.
//
// A Scheduler calls its tick function every interval while started. Before
// each tick it consults a single busy guard; a tick that finds the pipeline
// busy is dropped, never queued or replayed later.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultInterval is used when Start is given zero.
	DefaultInterval = 3 * time.Second

	// MinInterval is the shortest accepted interval.
	MinInterval = 100 * time.Millisecond
)

// ErrIntervalTooShort is returned by Start for intervals below MinInterval.
var ErrIntervalTooShort = errors.New("scan: interval below minimum")

// TickFunc runs one capture+dispatch attempt. Its context is cancelled when
// the scheduler stops; implementations check it before applying results.
type TickFunc func(ctx context.Context)

// Stats counts tick outcomes since the scheduler was created.
type Stats struct {
	Fired   uint64 `json:"fired"`
	Dropped uint64 `json:"dropped"`
}

// Scheduler issues ticks at a fixed interval.
type Scheduler struct {
	busy   func() bool
	logger *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration

	fired   atomic.Uint64
	dropped atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBusy sets the guard consulted before every tick.
func WithBusy(fn func() bool) Option {
	return func(s *Scheduler) {
		s.busy = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		busy:   func() bool { return false },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scan")
	return s
}

// Start begins ticking every interval. A running loop is stopped first.
// The first tick fires one interval after Start.
func (s *Scheduler) Start(interval time.Duration, tick TickFunc) error {
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		return fmt.Errorf("%w: %v < %v", ErrIntervalTooShort, interval, MinInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.interval = interval

	go s.run(ctx, interval, tick, done)

	s.logger.Info("live scan started", "interval", interval)
	return nil
}

// Stop cancels the pending tick. It is idempotent and does not wait for a
// tick that is already running; that tick sees its context cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLocked() {
		s.logger.Info("live scan stopped", "fired", s.fired.Load(), "dropped", s.dropped.Load())
	}
}

func (s *Scheduler) stopLocked() bool {
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	s.done = nil
	return true
}

// Running reports whether the loop is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Interval returns the interval of the current or last loop.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Stats returns tick counters.
func (s *Scheduler) Stats() Stats {
	return Stats{Fired: s.fired.Load(), Dropped: s.dropped.Load()}
}

// Done returns a channel closed when the current loop exits, or nil when
// stopped.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration, tick TickFunc, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Stop may race with the ticker.
			if ctx.Err() != nil {
				return
			}
			if s.busy() {
				n := s.dropped.Add(1)
				s.logger.Debug("tick dropped, request in flight", "dropped", n)
				continue
			}
			s.fired.Add(1)
			tick(ctx)
		}
	}
}
