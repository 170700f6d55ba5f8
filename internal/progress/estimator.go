package progress

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"image-squeeze-go/internal/backend"
	"image-squeeze-go/internal/imagestore"
)

// Callbacks receive the simulated progress updates for one session.
type Callbacks struct {
	OnProgress func(id string, percent int)
	OnComplete func(id string)
	OnError    func(id string, message string)
}

// Estimator simulates a smooth per-image progress ramp while the real
// compression call is in flight. The backend does not guarantee timely
// fine-grained progress for small or fast jobs; the simulated ramp keeps
// the feedback responsive and is superseded by authoritative backend
// events whenever those arrive.
type Estimator struct {
	mu       sync.Mutex
	sessions map[string]*session
	interval time.Duration
	logger   *logrus.Logger
}

type session struct {
	id       string
	start    time.Time
	total    time.Duration
	cb       Callbacks
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once

	emitMu  sync.Mutex
	lastPct int
}

// NewEstimator returns an estimator emitting ticks at the given interval.
func NewEstimator(interval time.Duration, logger *logrus.Logger) *Estimator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Estimator{
		sessions: make(map[string]*session),
		interval: interval,
		logger:   logger,
	}
}

// Start begins a progress session for the image. At most one session per
// id is active: a new Start silently discards any existing session for
// the same id without firing its callbacks.
func (e *Estimator) Start(id string, source imagestore.Format, target backend.WireFormat, sizeBytes int64, quality int, cb Callbacks) {
	total := EstimateDuration(source, target, sizeBytes, quality)

	s := &session{
		id:     id,
		start:  time.Now(),
		total:  total,
		cb:     cb,
		ticker: time.NewTicker(e.interval),
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if prev, ok := e.sessions[id]; ok {
		prev.stop()
	}
	e.sessions[id] = s
	e.mu.Unlock()

	e.logger.Debugf("Progress session started for %s, estimated %v", id, total)
	go e.run(s)
}

// Complete finishes the session for id: emits 100, fires OnComplete and
// disposes the session. No-op if no session exists.
func (e *Estimator) Complete(id string) {
	s := e.take(id)
	if s == nil {
		return
	}
	s.stop()
	s.emit(100)
	if s.cb.OnComplete != nil {
		s.cb.OnComplete(id)
	}
}

// Fail halts the session for id and fires OnError with the message.
// No-op if no session exists.
func (e *Estimator) Fail(id string, message string) {
	s := e.take(id)
	if s == nil {
		return
	}
	s.stop()
	if s.cb.OnError != nil {
		s.cb.OnError(id, message)
	}
}

// Stop discards every active session without firing callbacks.
func (e *Estimator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sessions {
		s.stop()
		delete(e.sessions, id)
	}
}

// Active reports whether a session currently exists for id.
func (e *Estimator) Active(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[id]
	return ok
}

// take removes and returns the session for id, if any.
func (e *Estimator) take(id string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil
	}
	delete(e.sessions, id)
	return s
}

func (e *Estimator) run(s *session) {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.emit(s.simulated(time.Now()))
		}
	}
}

func (s *session) stop() {
	s.stopOnce.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
}

// emit forwards a progress value, keeping the sequence monotonic.
func (s *session) emit(pct int) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if pct <= s.lastPct {
		return
	}
	s.lastPct = pct
	if s.cb.OnProgress != nil {
		s.cb.OnProgress(s.id, pct)
	}
}

// simulated returns the ramp value at time now: an ascending curve that
// asymptotically approaches but never reaches 100 while the session runs.
// 100 is reserved for explicit completion.
func (s *session) simulated(now time.Time) int {
	elapsed := now.Sub(s.start)
	if elapsed <= 0 {
		return 0
	}
	fraction := float64(elapsed) / float64(s.total)
	pct := int(99 * (1 - math.Exp(-2.5*fraction)))
	if pct > 99 {
		pct = 99
	}
	return pct
}

// EstimateDuration predicts how long a compression will take from the
// file size and the computational cost implied by the format pair. A
// lossy re-encode costs more than a straight copy or remux.
func EstimateDuration(source imagestore.Format, target backend.WireFormat, sizeBytes int64, quality int) time.Duration {
	// Throughput baseline: roughly 4 MB/s of source data, floor 300ms.
	const bytesPerSecond = 4 << 20
	base := 300*time.Millisecond + time.Duration(sizeBytes)*time.Second/time.Duration(bytesPerSecond)

	factor := formatCost(source, target)

	// Near-lossless quality settings take noticeably longer per byte.
	if quality >= 90 && target == backend.WireWebP {
		factor *= 1.5
	}

	d := time.Duration(float64(base) * factor)
	if d < 300*time.Millisecond {
		d = 300 * time.Millisecond
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// formatCost weighs the format pair: decode+re-encode is costly, a
// same-container optimization pass is cheap.
func formatCost(source imagestore.Format, target backend.WireFormat) float64 {
	switch target {
	case backend.WireWebP:
		if source == imagestore.FormatWebP {
			return 1.0
		}
		if source == imagestore.FormatHEIC {
			return 2.2
		}
		return 1.6
	case backend.WireJPEG:
		if source == imagestore.FormatJPEG {
			return 0.9
		}
		if source == imagestore.FormatHEIC {
			return 2.0
		}
		return 1.3
	case backend.WirePNG:
		if source == imagestore.FormatPNG {
			return 1.4
		}
		return 1.8
	default: // auto keeps the container, closer to a remux
		return 0.8
	}
}
