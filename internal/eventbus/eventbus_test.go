package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestMemorySinkKeepsOrder(t *testing.T) {
	s := NewMemorySink()
	for i, typ := range []string{"session_started", "step_succeeded", "session_done"} {
		err := s.Publish(Event{SessionID: "s1", Type: typ, Turn: i, At: time.Now()})
		if err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}

	events := s.Events()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Type != "session_started" || events[2].Type != "session_done" {
		t.Errorf("order wrong: %v", events)
	}

	// Events must return a copy, not the live slice.
	events[0].Type = "mutated"
	if s.Events()[0].Type != "session_started" {
		t.Error("Events leaked the internal slice")
	}
}

func TestMemorySinkConcurrentPublish(t *testing.T) {
	s := NewMemorySink()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Publish(Event{SessionID: "s1", Type: "tick"})
			}
		}()
	}
	wg.Wait()
	if got := len(s.Events()); got != 200 {
		t.Errorf("events = %d, want 200", got)
	}
}
