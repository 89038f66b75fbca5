// Package dispatch sends captured images to the classification service.
//
// A Dispatcher allows at most one outstanding request per generation.
// Concurrent submissions are rejected with a Busy error instead of being
// queued, and there is no automatic retry. Advancing the generation (on a
// mode switch) opens a fresh slot; a request still running from an older
// generation completes normally but its Outcome carries the old tag so the
// caller can discard it.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/teslashibe/go-feedscan/pkg/capture"
)

// lane is the single-flight slot of one generation.
type lane struct {
	gen  uint64
	sem  *semaphore.Weighted
	busy atomic.Bool
}

func newLane(gen uint64) *lane {
	return &lane{gen: gen, sem: semaphore.NewWeighted(1)}
}

// Dispatcher enforces single-flight submission to a Classifier.
type Dispatcher struct {
	classifier Classifier
	logger     *slog.Logger

	mu   sync.Mutex
	lane *lane

	// deliver orders Go callbacks: a callback runs before the next
	// request of the same lane can complete.
	deliver sync.Mutex

	submitted atomic.Int64
	rejected  atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a dispatcher in generation 0.
func New(c Classifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		classifier: c,
		logger:     slog.Default(),
		lane:       newLane(0),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	return d
}

// Busy reports whether a request of the current generation is outstanding.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	l := d.lane
	d.mu.Unlock()
	return l.busy.Load()
}

// Generation returns the current generation.
func (d *Dispatcher) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lane.gen
}

// Advance starts a new generation and returns it. An outstanding request
// of the previous generation no longer makes the dispatcher busy.
func (d *Dispatcher) Advance() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.lane
	d.lane = newLane(prev.gen + 1)
	if prev.busy.Load() {
		d.logger.Debug("generation advanced with request in flight",
			"stale_generation", prev.gen, "generation", d.lane.gen)
	}
	return d.lane.gen
}

// Stats reports how many submissions were accepted and rejected.
func (d *Dispatcher) Stats() (submitted, rejected int64) {
	return d.submitted.Load(), d.rejected.Load()
}

// reserve claims the current lane's slot without blocking.
func (d *Dispatcher) reserve() (*lane, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.lane
	if !l.sem.TryAcquire(1) {
		d.rejected.Add(1)
		return l, false
	}
	l.busy.Store(true)
	d.submitted.Add(1)
	return l, true
}

// release frees l's slot. It holds mu so that Busy never reports false
// while the slot is still taken.
func (d *Dispatcher) release(l *lane) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.sem.Release(1)
	l.busy.Store(false)
}

// Submit classifies img and blocks until the outcome is known. If a request
// of the current generation is outstanding it returns a Busy outcome at
// once.
func (d *Dispatcher) Submit(ctx context.Context, img *capture.Image) Outcome {
	l, ok := d.reserve()
	if !ok {
		return Outcome{Err: NewBusyError(), Generation: l.gen}
	}
	defer d.release(l)

	return d.run(ctx, img, uuid.New(), l.gen)
}

// Go reserves the slot synchronously and classifies img in the background,
// passing the outcome to fn. It returns false, without calling fn, when a
// request of the current generation is outstanding.
//
// Callbacks of one generation run one at a time in submission order.
func (d *Dispatcher) Go(ctx context.Context, img *capture.Image, fn func(Outcome)) (uuid.UUID, bool) {
	l, ok := d.reserve()
	if !ok {
		return uuid.Nil, false
	}

	id := uuid.New()
	go func() {
		out := d.run(ctx, img, id, l.gen)

		d.deliver.Lock()
		defer d.deliver.Unlock()
		d.release(l)
		if fn != nil {
			fn(out)
		}
	}()
	return id, true
}

func (d *Dispatcher) run(ctx context.Context, img *capture.Image, id uuid.UUID, gen uint64) Outcome {
	logger := d.logger.With("request_id", id, "generation", gen)
	logger.Debug("submitting image",
		"mime", img.MIMEType,
		"bytes", img.Size(),
		"resolution", [2]int{img.Width, img.Height},
	)

	start := time.Now()
	label, err := d.classifier.Classify(ctx, img)
	out := Outcome{
		RequestID:  id,
		Generation: gen,
		Duration:   time.Since(start),
	}

	if err != nil {
		out.Err = AsError(err)
		logger.Warn("analysis failed", "kind", out.Err.Kind, "error", out.Err.Message, "took", out.Duration)
		return out
	}

	out.Label = label
	logger.Info("analysis complete", "label", label, "took", out.Duration)
	return out
}
