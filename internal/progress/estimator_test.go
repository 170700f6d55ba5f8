package progress

import (
	"sync"
	"testing"
	"time"

	"image-squeeze-go/internal/backend"
	"image-squeeze-go/internal/imagestore"
)

// recorder collects callback invocations for one session.
type recorder struct {
	mu        sync.Mutex
	values    []int
	completed bool
	errMsg    string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(id string, percent int) {
			r.mu.Lock()
			r.values = append(r.values, percent)
			r.mu.Unlock()
		},
		OnComplete: func(id string) {
			r.mu.Lock()
			r.completed = true
			r.mu.Unlock()
		},
		OnError: func(id string, message string) {
			r.mu.Lock()
			r.errMsg = message
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]int, bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vals := make([]int, len(r.values))
	copy(vals, r.values)
	return vals, r.completed, r.errMsg
}

func TestRampIsMonotonicAndNeverReaches100(t *testing.T) {
	e := NewEstimator(5*time.Millisecond, nil)
	defer e.Stop()

	rec := &recorder{}
	e.Start("img-1", imagestore.FormatPNG, backend.WireWebP, 100, 80, rec.callbacks())

	time.Sleep(150 * time.Millisecond)
	e.Stop()

	values, completed, errMsg := rec.snapshot()
	if len(values) == 0 {
		t.Fatal("no progress emitted")
	}
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			t.Fatalf("progress not strictly ascending: %v", values)
		}
	}
	for _, v := range values {
		if v < 0 || v >= 100 {
			t.Fatalf("ramp value %d out of range, 100 is reserved for completion", v)
		}
	}
	if completed || errMsg != "" {
		t.Error("Stop must not fire completion or error callbacks")
	}
}

func TestCompleteEmits100ThenOnComplete(t *testing.T) {
	e := NewEstimator(time.Hour, nil) // no ticks, only explicit completion
	defer e.Stop()

	rec := &recorder{}
	e.Start("img-1", imagestore.FormatJPEG, backend.WireJPEG, 1000, 80, rec.callbacks())
	e.Complete("img-1")

	values, completed, _ := rec.snapshot()
	if len(values) != 1 || values[0] != 100 {
		t.Fatalf("values = %v, want [100]", values)
	}
	if !completed {
		t.Fatal("OnComplete not fired")
	}
	if e.Active("img-1") {
		t.Error("session not disposed after Complete")
	}

	// second Complete is a no-op
	e.Complete("img-1")
	values, _, _ = rec.snapshot()
	if len(values) != 1 {
		t.Errorf("no-op Complete emitted again: %v", values)
	}
}

func TestFailHaltsAndFiresOnError(t *testing.T) {
	e := NewEstimator(time.Hour, nil)
	defer e.Stop()

	rec := &recorder{}
	e.Start("img-1", imagestore.FormatJPEG, backend.WireWebP, 1000, 80, rec.callbacks())
	e.Fail("img-1", "backend exploded")

	_, completed, errMsg := rec.snapshot()
	if errMsg != "backend exploded" {
		t.Fatalf("errMsg = %q", errMsg)
	}
	if completed {
		t.Error("OnComplete fired on error path")
	}
	if e.Active("img-1") {
		t.Error("session not disposed after Fail")
	}

	// Fail without a session is a no-op
	e.Fail("img-2", "nothing here")
}

func TestRestartSupersedesSilently(t *testing.T) {
	e := NewEstimator(time.Hour, nil)
	defer e.Stop()

	first := &recorder{}
	e.Start("img-1", imagestore.FormatPNG, backend.WirePNG, 10, 100, first.callbacks())

	second := &recorder{}
	e.Start("img-1", imagestore.FormatPNG, backend.WirePNG, 10, 100, second.callbacks())

	// the discarded session must stay silent
	_, completed, errMsg := first.snapshot()
	if completed || errMsg != "" {
		t.Error("discarded session fired callbacks")
	}

	e.Complete("img-1")
	if _, completed, _ := second.snapshot(); !completed {
		t.Error("replacement session did not complete")
	}
	if values, _, _ := first.snapshot(); len(values) != 0 {
		t.Errorf("discarded session received progress: %v", values)
	}
}

func TestEstimateDurationScalesWithSizeAndFormat(t *testing.T) {
	small := EstimateDuration(imagestore.FormatJPEG, backend.WireJPEG, 100_000, 80)
	large := EstimateDuration(imagestore.FormatJPEG, backend.WireJPEG, 50_000_000, 80)
	if large <= small {
		t.Errorf("duration should grow with size: small=%v large=%v", small, large)
	}

	remux := EstimateDuration(imagestore.FormatJPEG, backend.WireAuto, 5_000_000, 80)
	reencode := EstimateDuration(imagestore.FormatHEIC, backend.WireWebP, 5_000_000, 80)
	if reencode <= remux {
		t.Errorf("lossy re-encode should cost more than a remux: remux=%v reencode=%v", remux, reencode)
	}

	if d := EstimateDuration(imagestore.FormatJPEG, backend.WireJPEG, 0, 80); d < 300*time.Millisecond {
		t.Errorf("duration floor violated: %v", d)
	}
}
