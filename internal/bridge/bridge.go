// Package bridge feeds authoritative backend progress events into the
// image collection.
package bridge

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"image-squeeze-go/internal/backend"
	"image-squeeze-go/internal/imagestore"
)

// EventHook observes every bridged event, after it has been applied to
// the store. The web layer uses it to push updates to clients.
type EventHook func(ev backend.ProgressEvent, percent int)

// Bridge subscribes once to the process-wide backend progress channel and
// writes the reported progress into the matching image records. Events
// for ids that are unknown or no longer processing are silent no-ops.
type Bridge struct {
	store   *imagestore.Store
	emitter *backend.Emitter
	logger  *logrus.Logger
	hook    EventHook

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

// New returns an unsubscribed bridge.
func New(store *imagestore.Store, emitter *backend.Emitter, logger *logrus.Logger, hook EventHook) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{store: store, emitter: emitter, logger: logger, hook: hook}
}

// Subscribe attaches the bridge to the progress channel. Calling it again
// tears down the previous subscription first, so there is never more
// than one listener. The returned disposer is the same one Close uses.
func (b *Bridge) Subscribe() func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		<-b.done
	}

	ch, cancel := b.emitter.Subscribe()
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done

	go func() {
		defer close(done)
		for ev := range ch {
			b.apply(ev)
		}
	}()

	b.logger.Debug("Backend event bridge subscribed")
	return cancel
}

// Close detaches the bridge from the progress channel.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
		b.done = nil
	}
}

// apply merges one backend event into the image record it addresses.
func (b *Bridge) apply(ev backend.ProgressEvent) {
	percent := rescale(ev.Progress)

	switch ev.Stage {
	case backend.StageError:
		// Second path into the error state: the job loop handles its own
		// failures too, and whichever transition lands first wins.
		if b.store.MarkError(ev.ImageID) {
			b.logger.Warnf("Backend reported error for %s: %s", ev.ImageName, ev.Message)
		}
	case backend.StageComplete:
		b.store.SetProgress(ev.ImageID, 100)
	default:
		b.store.SetProgress(ev.ImageID, percent)
	}

	if b.hook != nil {
		b.hook(ev, percent)
	}
}

// rescale converts fractional progress in [0,1] to an integer percent.
func rescale(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}
	pct := int(math.Round(fraction * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
