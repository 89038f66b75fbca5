package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-feedscan/pkg/capture"
)

func testImage() *capture.Image {
	return &capture.Image{Data: []byte{0xff, 0xd8, 0xff, 0xd9}, MIMEType: capture.MIMEJPEG, Quality: 0.8}
}

// gated returns a mock whose Classify blocks until the returned func is
// called.
func gated(label string) (*Mock, func()) {
	gate := make(chan struct{})
	var once sync.Once
	m := &Mock{
		ClassifyFunc: func(ctx context.Context, img *capture.Image) (string, error) {
			<-gate
			return label, nil
		},
	}
	return m, func() { once.Do(func() { close(gate) }) }
}

func waitBusy(t *testing.T, d *Dispatcher, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.Busy() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Busy() never became %v", want)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitCalls(t *testing.T, m *Mock, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.CallCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("classifier never reached %d calls", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitPassesLabelThrough(t *testing.T) {
	label := "⚠️ FOREIGN OBJECT"
	d := New(NewMock(label))

	out := d.Submit(context.Background(), testImage())
	if !out.OK() {
		t.Fatalf("expected label, got error %v", out.Err)
	}
	if out.Label != label {
		t.Errorf("label modified: got %q", out.Label)
	}
	if out.Generation != 0 {
		t.Errorf("expected generation 0, got %d", out.Generation)
	}
	if d.Busy() {
		t.Error("dispatcher should be idle after Submit returns")
	}
}

func TestSubmitBusyFailsFast(t *testing.T) {
	m, release := gated("CORN SILAGE - fresh")
	defer release()
	d := New(m)

	done := make(chan Outcome, 1)
	if _, ok := d.Go(context.Background(), testImage(), func(o Outcome) { done <- o }); !ok {
		t.Fatal("first submission should be accepted")
	}

	start := time.Now()
	out := d.Submit(context.Background(), testImage())
	if out.OK() || out.Err.Kind != Busy {
		t.Fatalf("expected Busy, got %+v", out)
	}
	if !errors.Is(out.Err, ErrBusy) {
		t.Error("Busy error should wrap ErrBusy")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Busy rejection should not wait")
	}
	if _, ok := d.Go(context.Background(), testImage(), nil); ok {
		t.Error("Go should also be rejected while busy")
	}

	release()
	if o := <-done; o.Label != "CORN SILAGE - fresh" {
		t.Errorf("unexpected outcome %+v", o)
	}
	if m.CallCount() != 1 {
		t.Errorf("rejected submissions must not reach the classifier, got %d calls", m.CallCount())
	}

	submitted, rejected := d.Stats()
	if submitted != 1 || rejected != 2 {
		t.Errorf("expected 1 submitted / 2 rejected, got %d / %d", submitted, rejected)
	}
}

func TestSingleFlightUnderContention(t *testing.T) {
	m := NewMock("HAY - dry")
	m.Delay = 5 * time.Millisecond
	d := New(m)

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				d.Submit(context.Background(), testImage())
			}
		}()
	}
	wg.Wait()

	if peak := m.MaxInflight(); peak != 1 {
		t.Errorf("expected at most 1 outstanding request, saw %d", peak)
	}
	submitted, rejected := d.Stats()
	if submitted+rejected != workers*10 {
		t.Errorf("expected %d submissions, got %d", workers*10, submitted+rejected)
	}
	if int(submitted) != m.CallCount() {
		t.Errorf("accepted %d but classifier saw %d", submitted, m.CallCount())
	}
}

func TestGoAppliesOutcomesInSubmissionOrder(t *testing.T) {
	var seq int
	var mu sync.Mutex
	m := &Mock{
		ClassifyFunc: func(ctx context.Context, img *capture.Image) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("label-%d", seq), nil
		},
	}
	d := New(m)

	var applied []string
	results := make(chan string, 1)
	for i := 0; i < 10; i++ {
		// Retry until the previous request has released the slot.
		for {
			if _, ok := d.Go(context.Background(), testImage(), func(o Outcome) { results <- o.Label }); ok {
				break
			}
			time.Sleep(time.Millisecond)
		}
		applied = append(applied, <-results)
	}

	for i, got := range applied {
		if want := fmt.Sprintf("label-%d", i+1); got != want {
			t.Errorf("outcome %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestAdvanceOpensNewGeneration(t *testing.T) {
	m, release := gated("BARLEY - mouldy")
	d := New(m)

	stale := make(chan Outcome, 1)
	if _, ok := d.Go(context.Background(), testImage(), func(o Outcome) { stale <- o }); !ok {
		t.Fatal("submission rejected")
	}
	waitCalls(t, m, 1)

	gen := d.Advance()
	if gen != 1 || d.Generation() != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}
	if d.Busy() {
		t.Fatal("new generation must not inherit the busy flag")
	}

	// The new generation dispatches even though the old request is running.
	m.SetFunc(func(ctx context.Context, img *capture.Image) (string, error) {
		return "WHEAT - clean", nil
	})
	out := d.Submit(context.Background(), testImage())
	if !out.OK() || out.Generation != 1 {
		t.Fatalf("expected generation-1 label, got %+v", out)
	}

	release()
	old := <-stale
	if old.Generation != 0 {
		t.Errorf("stale outcome should carry generation 0, got %d", old.Generation)
	}
	if d.Busy() {
		t.Error("old request completion must not affect the current generation")
	}
}

func TestOldCompletionDoesNotClearNewBusy(t *testing.T) {
	oldMock, releaseOld := gated("old")
	d := New(oldMock)

	oldDone := make(chan struct{})
	d.Go(context.Background(), testImage(), func(Outcome) { close(oldDone) })
	waitCalls(t, oldMock, 1)
	d.Advance()

	newGate := make(chan struct{})
	oldMock.SetFunc(func(ctx context.Context, img *capture.Image) (string, error) {
		<-newGate
		return "new", nil
	})
	if _, ok := d.Go(context.Background(), testImage(), nil); !ok {
		t.Fatal("new generation submission rejected")
	}

	releaseOld()
	<-oldDone
	if !d.Busy() {
		t.Error("current request still outstanding; Busy must stay true")
	}
	close(newGate)
	waitBusy(t, d, false)
}

func TestSubmitClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		msg  string
	}{
		{"plain error is network", errors.New("dial tcp: connection refused"), NetworkError, "dial tcp: connection refused"},
		{"service error kept", NewServiceError(500, "model overloaded"), ServiceError, "model overloaded"},
		{"empty service message", NewServiceError(400, ""), ServiceError, DefaultServiceMessage},
		{"wrapped network error", fmt.Errorf("classify: %w", NewNetworkError(context.DeadlineExceeded)), NetworkError, context.DeadlineExceeded.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(MockWithError(tt.err))
			out := d.Submit(context.Background(), testImage())
			if out.OK() {
				t.Fatal("expected error outcome")
			}
			if out.Err.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, out.Err.Kind)
			}
			if out.Err.Message != tt.msg {
				t.Errorf("expected message %q, got %q", tt.msg, out.Err.Message)
			}
			if out.Label != "" {
				t.Error("error outcome must not carry a label")
			}
		})
	}
}

func TestErrorIsKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewBusyError())
	if !errors.Is(err, &Error{Kind: Busy}) {
		t.Error("expected errors.Is to match on kind")
	}
	if errors.Is(err, &Error{Kind: NetworkError}) {
		t.Error("different kind must not match")
	}
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}
}
