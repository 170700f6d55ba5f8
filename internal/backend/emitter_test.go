package backend

import (
	"testing"
	"time"
)

func TestEmitterDeliversToSubscriber(t *testing.T) {
	e := NewEmitter()
	ch, cancel := e.Subscribe()
	defer cancel()

	e.Publish(ProgressEvent{ImageID: "a", Stage: StageCompressing, Progress: 0.5})

	select {
	case ev := <-ch:
		if ev.ImageID != "a" || ev.Stage != StageCompressing {
			t.Errorf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmitterCancelClosesChannel(t *testing.T) {
	e := NewEmitter()
	ch, cancel := e.Subscribe()

	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}

	// publishing after cancel must not panic
	e.Publish(ProgressEvent{ImageID: "a"})
}

func TestEmitterPublishNeverBlocks(t *testing.T) {
	e := NewEmitter()
	_, cancel := e.Subscribe()
	defer cancel()

	// overflow the subscriber buffer without anyone draining it
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.Publish(ProgressEvent{ImageID: "a", Progress: float64(i) / 1000})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestEmitterFansOut(t *testing.T) {
	e := NewEmitter()
	ch1, cancel1 := e.Subscribe()
	ch2, cancel2 := e.Subscribe()
	defer cancel1()
	defer cancel2()

	e.Publish(ProgressEvent{ImageID: "a"})

	for _, ch := range []<-chan ProgressEvent{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}
