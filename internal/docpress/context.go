package docpress

import (
	"sort"
	"time"
)

// PageContext is the mutable data bag shared by every processor bound to
// one slot assignment. It is owned by the slot's goroutine and is never
// accessed concurrently, so no locking is required. It is destroyed when
// the slot releases its page handle.
type PageContext struct {
	Slot      int
	Entry     Entry
	Page      PageHandle
	StartedAt time.Time

	// Well-known fields written by the standard processors.
	PageState       LoadState
	SlowCounts      map[string]int
	FailedCounts    map[string]int
	ContentIsolated bool
	ArtifactURI     string

	// Data carries processor-specific scratch values that have no
	// well-known field.
	Data map[string]any

	states  map[string]State
	pending []PageEvent
	limit   int
	dropped int
}

// NewPageContext builds the context for a fresh assignment. eventLimit
// bounds how many undrained page events are retained per tick.
func NewPageContext(slot int, entry Entry, page PageHandle, started time.Time, eventLimit int) *PageContext {
	if eventLimit <= 0 {
		eventLimit = 256
	}
	return &PageContext{
		Slot:         slot,
		Entry:        entry,
		Page:         page,
		StartedAt:    started,
		PageState:    PageLoading,
		SlowCounts:   make(map[string]int),
		FailedCounts: make(map[string]int),
		Data:         make(map[string]any),
		states:       make(map[string]State),
		limit:        eventLimit,
	}
}

// PullEvents drains the page handle's event buffer without blocking and
// queues the events for the next TakeEvents call. Events beyond the
// configured limit are dropped, oldest kept. Returns the number queued.
func (pc *PageContext) PullEvents() int {
	if pc.Page == nil {
		return 0
	}
	queued := 0
	for {
		select {
		case ev, ok := <-pc.Page.Events():
			if !ok {
				return queued
			}
			if len(pc.pending) >= pc.limit {
				pc.dropped++
				continue
			}
			pc.pending = append(pc.pending, ev)
			queued++
		default:
			return queued
		}
	}
}

// TakeEvents returns the queued events and clears the queue.
func (pc *PageContext) TakeEvents() []PageEvent {
	events := pc.pending
	pc.pending = nil
	return events
}

// DroppedEvents reports how many events were discarded at the limit.
func (pc *PageContext) DroppedEvents() int {
	return pc.dropped
}

// State returns the recorded state for a processor, WAITING if unknown.
func (pc *PageContext) State(name string) State {
	if s, ok := pc.states[name]; ok {
		return s
	}
	return StateWaiting
}

// SetState records a processor state transition.
func (pc *PageContext) SetState(name string, s State) {
	pc.states[name] = s
}

// States returns a copy of the processor-state map.
func (pc *PageContext) States() map[string]State {
	out := make(map[string]State, len(pc.states))
	for name, s := range pc.states {
		out[name] = s
	}
	return out
}

// ProcessorNames lists recorded processors in stable order.
func (pc *PageContext) ProcessorNames() []string {
	names := make([]string, 0, len(pc.states))
	for name := range pc.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Elapsed reports how long the assignment has been bound.
func (pc *PageContext) Elapsed(now time.Time) time.Duration {
	return now.Sub(pc.StartedAt)
}
