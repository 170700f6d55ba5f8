package backend

import "sync"

// Emitter is the process-wide progress channel. Backends publish events,
// at most a handful of bridges subscribe. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the
// compression call.
type Emitter struct {
	mu   sync.Mutex
	subs map[int]chan ProgressEvent
	next int
}

// NewEmitter returns an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan ProgressEvent)}
}

// Subscribe registers a new subscriber and returns its event channel plus
// a disposer. The disposer is idempotent and closes the channel.
func (e *Emitter) Subscribe() (<-chan ProgressEvent, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.next
	e.next++
	ch := make(chan ProgressEvent, 64)
	e.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber that has buffer room.
func (e *Emitter) Publish(ev ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
