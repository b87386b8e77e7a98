package docpress

import (
	"time"
)

// EntryStatus represents the lifecycle state of a frontier entry.
type EntryStatus string

// Frontier entry statuses.
const (
	StatusPending    EntryStatus = "PENDING"
	StatusProcessing EntryStatus = "PROCESSING"
	StatusCompleted  EntryStatus = "COMPLETED"
	StatusFailed     EntryStatus = "FAILED"
	StatusBlocked    EntryStatus = "BLOCKED"
)

// Terminal reports whether the status permits no further transitions.
func (s EntryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// Entry is one unit of work in the frontier. URL always holds the
// normalized form; no two entries share the same normalized URL.
type Entry struct {
	ID       string      `json:"id"`
	URL      string      `json:"url"`
	Category string      `json:"category"`
	Status   EntryStatus `json:"status"`
	// Priority orders next_pending selection; lower values are served
	// first, ties break by insertion order.
	Priority int `json:"priority,omitempty"`
	// Attempts counts how many times the entry has been bound to a slot.
	Attempts    int        `json:"attempts"`
	AddedAt     time.Time  `json:"added_at"`
	BlockReason string     `json:"block_reason,omitempty"`
	BlockedAt   *time.Time `json:"blocked_at,omitempty"`
}

// State is the lifecycle state of a processor within one slot assignment.
type State string

// Processor states. FINISHED is terminal.
const (
	StateWaiting   State = "WAITING"
	StateReady     State = "READY"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
	StateFinished  State = "FINISHED"
)

// Settled reports whether the state clears the priority gate for
// higher-priority-value processors.
func (s State) Settled() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFinished
}

// LoadState tracks how far the bound page has progressed.
type LoadState string

// Page load states recorded by the monitoring processor.
const (
	PageLoading  LoadState = "loading"
	PageReady    LoadState = "ready"
	PageComplete LoadState = "complete"
)

// PageEventKind tags asynchronous page-driver notifications.
type PageEventKind string

// Page event kinds delivered by the page driver.
const (
	EventRequestStart  PageEventKind = "request_start"
	EventResponse      PageEventKind = "response"
	EventRequestFailed PageEventKind = "request_failed"
	EventDOMReady      PageEventKind = "dom_ready"
	EventLoad          PageEventKind = "load"
)

// PageEvent is one asynchronous notification from the page driver. Events
// are buffered per handle and drained synchronously at the start of each
// scheduler tick, so processors never observe true concurrency.
type PageEvent struct {
	Kind PageEventKind
	// URL is the resource URL the event refers to, not necessarily the
	// page URL.
	URL      string
	Status   int
	Duration time.Duration
	Failure  string
	At       time.Time
}

// ElementRef identifies one element matched by a selector query.
type ElementRef struct {
	Selector string
	Index    int
	Text     string
	Attrs    map[string]string
}

// ExportOptions controls document rendering. Dimensions are in inches.
type ExportOptions struct {
	Landscape       bool
	PaperWidth      float64
	PaperHeight     float64
	Margin          float64
	PrintBackground bool
	Scale           float64
}

// A4 paper with 1cm margins, the default export layout.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		PaperWidth:      8.27,
		PaperHeight:     11.69,
		Margin:          0.394,
		PrintBackground: true,
		Scale:           1.0,
	}
}
