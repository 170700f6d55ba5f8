package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"image-squeeze-go/internal/backend"
	"image-squeeze-go/internal/imagestore"
	"image-squeeze-go/internal/progress"
	"image-squeeze-go/internal/settings"
	"image-squeeze-go/internal/telemetry"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeCompressor records calls in order and returns canned outcomes.
type fakeCompressor struct {
	mu      sync.Mutex
	calls   []string
	errs    map[string]error
	started chan struct{} // closed on first call, if non-nil
	release chan struct{} // blocks each call until closed, if non-nil
}

func (f *fakeCompressor) Compress(ctx context.Context, req backend.Request) (backend.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.ImageName)
	first := len(f.calls) == 1
	f.mu.Unlock()

	if f.started != nil && first {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	if err := f.errs[req.ImageName]; err != nil {
		return backend.Result{}, err
	}
	return backend.Result{CompressedSize: 500, OutputPath: req.Path + ".min"}, nil
}

func (f *fakeCompressor) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeRecorder counts recording attempts and can fail either call.
type fakeRecorder struct {
	mu           sync.Mutex
	withTime     int
	plain        int
	failWithTime bool
	failPlain    bool
}

func (f *fakeRecorder) RecordWithTime(ctx context.Context, rec telemetry.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withTime++
	if f.failWithTime {
		return errors.New("database is locked")
	}
	return nil
}

func (f *fakeRecorder) Record(ctx context.Context, rec telemetry.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plain++
	if f.failPlain {
		return errors.New("database is locked")
	}
	return nil
}

func (f *fakeRecorder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.withTime, f.plain
}

func newOrchestrator(t *testing.T, comp backend.Compressor, rec telemetry.Recorder, opts ...Option) (*Orchestrator, *imagestore.Store) {
	t.Helper()
	log := quietLogger()
	store := imagestore.NewStore(log)
	est := progress.NewEstimator(time.Hour, log)
	t.Cleanup(est.Stop)
	return New(store, settings.NewStore(settings.Default()), comp, est, rec, log, opts...), store
}

func TestRunProcessesPendingInOrder(t *testing.T) {
	comp := &fakeCompressor{}
	rec := &fakeRecorder{}
	orch, store := newOrchestrator(t, comp, rec)

	store.Add([]string{"/nope/a.jpg", "/nope/b.png", "/nope/c.webp"})
	orch.Run(context.Background())

	want := []string{"a.jpg", "b.png", "c.webp"}
	got := comp.callOrder()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}

	for _, img := range store.List() {
		if img.Status != imagestore.StatusCompleted {
			t.Errorf("%s status = %s, want completed", img.Name, img.Status)
		}
		if img.Progress != 100 {
			t.Errorf("%s progress = %d, want 100", img.Name, img.Progress)
		}
		if img.CompressedSize != 500 {
			t.Errorf("%s compressed size = %d, want 500", img.Name, img.CompressedSize)
		}
	}

	withTime, plain := rec.counts()
	if withTime != 3 || plain != 0 {
		t.Errorf("telemetry calls = (%d, %d), want (3, 0)", withTime, plain)
	}
	if orch.Running() {
		t.Error("running guard not cleared after run")
	}
}

func TestRunWhileRunningIsNoOp(t *testing.T) {
	comp := &fakeCompressor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	orch, store := newOrchestrator(t, comp, nil)
	store.Add([]string{"/nope/a.jpg"})

	done := make(chan struct{})
	go func() {
		orch.Run(context.Background())
		close(done)
	}()

	<-comp.started
	if !orch.Running() {
		t.Fatal("Running() = false while a job is in flight")
	}

	// second invocation returns immediately without queuing
	orch.Run(context.Background())

	close(comp.release)
	<-done

	if calls := comp.callOrder(); len(calls) != 1 {
		t.Errorf("compressor called %d times, want 1", len(calls))
	}
	if orch.Running() {
		t.Error("running guard not cleared")
	}
}

func TestOneFailureDoesNotAbortTheRun(t *testing.T) {
	comp := &fakeCompressor{
		errs: map[string]error{"b.png": errors.New("unsupported chunk")},
	}
	var notifications []string
	var mu sync.Mutex
	orch, store := newOrchestrator(t, comp, nil, WithNotifyHook(func(level, message string) {
		mu.Lock()
		defer mu.Unlock()
		if level == "error" {
			notifications = append(notifications, message)
		}
	}))

	store.Add([]string{"/nope/a.jpg", "/nope/b.png", "/nope/c.jpg"})
	orch.Run(context.Background())

	if calls := comp.callOrder(); len(calls) != 3 {
		t.Fatalf("compressor called %d times, want 3", len(calls))
	}

	statuses := map[string]imagestore.Status{}
	for _, img := range store.List() {
		statuses[img.Name] = img.Status
	}
	if statuses["a.jpg"] != imagestore.StatusCompleted || statuses["c.jpg"] != imagestore.StatusCompleted {
		t.Errorf("neighbouring images affected by the failure: %v", statuses)
	}
	if statuses["b.png"] != imagestore.StatusError {
		t.Errorf("b.png status = %s, want error", statuses["b.png"])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notifications) != 1 {
		t.Fatalf("error notifications = %v, want exactly one", notifications)
	}
}

func TestTelemetryFallbackAttemptedExactlyOnce(t *testing.T) {
	comp := &fakeCompressor{}
	rec := &fakeRecorder{failWithTime: true}
	orch, store := newOrchestrator(t, comp, rec)

	store.Add([]string{"/nope/a.jpg"})
	orch.Run(context.Background())

	withTime, plain := rec.counts()
	if withTime != 1 || plain != 1 {
		t.Errorf("telemetry calls = (%d, %d), want (1, 1)", withTime, plain)
	}

	img := store.List()[0]
	if img.Status != imagestore.StatusCompleted {
		t.Errorf("status = %s, telemetry failure must not affect job state", img.Status)
	}
}

func TestTelemetryDoubleFailureLeavesImageCompleted(t *testing.T) {
	comp := &fakeCompressor{}
	rec := &fakeRecorder{failWithTime: true, failPlain: true}
	orch, store := newOrchestrator(t, comp, rec)

	store.Add([]string{"/nope/a.jpg"})
	orch.Run(context.Background())

	withTime, plain := rec.counts()
	if withTime != 1 || plain != 1 {
		t.Errorf("telemetry calls = (%d, %d), want (1, 1)", withTime, plain)
	}
	if img := store.List()[0]; img.Status != imagestore.StatusCompleted {
		t.Errorf("status = %s, want completed", img.Status)
	}
}

func TestNilRecorderSkipsTelemetry(t *testing.T) {
	comp := &fakeCompressor{}
	orch, store := newOrchestrator(t, comp, nil)

	store.Add([]string{"/nope/a.jpg"})
	orch.Run(context.Background())

	if img := store.List()[0]; img.Status != imagestore.StatusCompleted {
		t.Errorf("status = %s, want completed", img.Status)
	}
}

func TestCancelledContextStopsBetweenImages(t *testing.T) {
	comp := &fakeCompressor{}
	orch, store := newOrchestrator(t, comp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store.Add([]string{"/nope/a.jpg", "/nope/b.jpg"})
	orch.Run(ctx)

	if calls := comp.callOrder(); len(calls) != 0 {
		t.Errorf("compressor called %d times after cancellation, want 0", len(calls))
	}
	if orch.Running() {
		t.Error("running guard not cleared")
	}
}

func TestImagesAddedMidRunWaitForNextRun(t *testing.T) {
	comp := &fakeCompressor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	orch, store := newOrchestrator(t, comp, nil)
	store.Add([]string{"/nope/a.jpg"})

	done := make(chan struct{})
	go func() {
		orch.Run(context.Background())
		close(done)
	}()

	<-comp.started
	store.Add([]string{"/nope/late.jpg"})
	close(comp.release)
	<-done

	if calls := comp.callOrder(); len(calls) != 1 {
		t.Fatalf("first run processed %d images, want 1", len(calls))
	}

	// the late image is picked up by a fresh run
	orch.Run(context.Background())
	calls := comp.callOrder()
	if len(calls) != 2 || calls[1] != "late.jpg" {
		t.Errorf("second run calls = %v, want [a.jpg late.jpg]", calls)
	}
}
