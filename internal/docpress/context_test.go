package docpress

import (
	"context"
	"testing"
	"time"
)

type eventOnlyHandle struct {
	events chan PageEvent
}

func (h *eventOnlyHandle) Navigate(context.Context, string) error { return nil }
func (h *eventOnlyHandle) Evaluate(context.Context, string, any) error {
	return nil
}
func (h *eventOnlyHandle) QueryAll(context.Context, string) ([]ElementRef, error) {
	return nil, nil
}
func (h *eventOnlyHandle) Screenshot(context.Context) ([]byte, error) { return nil, nil }
func (h *eventOnlyHandle) Events() <-chan PageEvent                   { return h.events }
func (h *eventOnlyHandle) Close(context.Context) error                { return nil }

func TestPageContextPullAndTakeEvents(t *testing.T) {
	t.Parallel()

	handle := &eventOnlyHandle{events: make(chan PageEvent, 8)}
	pc := NewPageContext(0, Entry{ID: "e1"}, handle, time.Now(), 4)

	for i := 0; i < 3; i++ {
		handle.events <- PageEvent{Kind: EventResponse, Status: 200}
	}
	if got := pc.PullEvents(); got != 3 {
		t.Fatalf("PullEvents() = %d, want 3", got)
	}
	if got := len(pc.TakeEvents()); got != 3 {
		t.Fatalf("TakeEvents() len = %d, want 3", got)
	}
	// Queue is cleared after take.
	if got := len(pc.TakeEvents()); got != 0 {
		t.Fatalf("second TakeEvents() len = %d, want 0", got)
	}
}

func TestPageContextEventLimit(t *testing.T) {
	t.Parallel()

	handle := &eventOnlyHandle{events: make(chan PageEvent, 8)}
	pc := NewPageContext(1, Entry{ID: "e2"}, handle, time.Now(), 2)

	for i := 0; i < 5; i++ {
		handle.events <- PageEvent{Kind: EventRequestStart}
	}
	pc.PullEvents()
	if got := len(pc.TakeEvents()); got != 2 {
		t.Fatalf("expected limit of 2 queued events, got %d", got)
	}
	if pc.DroppedEvents() != 3 {
		t.Fatalf("DroppedEvents() = %d, want 3", pc.DroppedEvents())
	}
}

func TestPageContextStates(t *testing.T) {
	t.Parallel()

	pc := NewPageContext(0, Entry{ID: "e3"}, nil, time.Now(), 0)
	if got := pc.State("monitor"); got != StateWaiting {
		t.Fatalf("unknown processor state = %s, want WAITING", got)
	}
	pc.SetState("monitor", StateRunning)
	pc.SetState("finder", StateWaiting)
	if got := pc.State("monitor"); got != StateRunning {
		t.Fatalf("State(monitor) = %s", got)
	}

	snapshot := pc.States()
	snapshot["monitor"] = StateCancelled
	if got := pc.State("monitor"); got != StateRunning {
		t.Fatal("States() must return a copy")
	}

	names := pc.ProcessorNames()
	if len(names) != 2 || names[0] != "finder" || names[1] != "monitor" {
		t.Fatalf("ProcessorNames() = %v", names)
	}
}

func TestEntryStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []EntryStatus{StatusCompleted, StatusFailed, StatusBlocked} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []EntryStatus{StatusPending, StatusProcessing} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestStateSettled(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateCompleted, StateCancelled, StateFinished} {
		if !s.Settled() {
			t.Fatalf("%s should settle the gate", s)
		}
	}
	for _, s := range []State{StateWaiting, StateReady, StateRunning} {
		if s.Settled() {
			t.Fatalf("%s should not settle the gate", s)
		}
	}
}
