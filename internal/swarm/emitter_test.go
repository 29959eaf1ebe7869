package swarm

import (
	"testing"
)

func TestEmitterDeliversInOrder(t *testing.T) {
	e := NewEventEmitter(4)
	e.Emit(Event{Type: EventTaskQueued, TaskID: "t1"})
	e.Emit(Event{Type: EventTaskStarted, TaskID: "t1"})
	e.Close()

	var got []EventType
	for ev := range e.Events() {
		got = append(got, ev.Type)
		if ev.Timestamp.IsZero() {
			t.Error("Emit should stamp events with a timestamp")
		}
	}
	want := []EventType{EventTaskQueued, EventTaskStarted}
	if len(got) != len(want) {
		t.Fatalf("received %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	e := NewEventEmitter(1)
	e.Emit(Event{Type: EventTaskQueued})
	// Buffer full with no reader: this one is dropped after the retry window.
	e.Emit(Event{Type: EventTaskStarted})

	if got := e.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount = %d, want 1", got)
	}
}
