package docpress

import (
	"context"
	"time"
)

// Frontier is the deduplicated, status-tracked work collection shared by
// every slot. Implementations serialize all mutations; reads may be stale
// by at most one mutation but never torn.
type Frontier interface {
	// Add inserts a URL and returns its entry id. Inserting a URL whose
	// normalized form is already present returns the existing id.
	Add(url, category string) (string, error)
	// BulkAdd inserts many URLs; malformed items are skipped without
	// aborting the batch. Returns the ids of entries present afterwards.
	BulkAdd(urls []string, category string) []string
	// UpdateStatus transitions an entry. Returns ErrUnknownEntry for an
	// absent id. Updates on terminal entries are recorded no-ops.
	UpdateStatus(id string, status EntryStatus) error
	// NextPending atomically claims one PENDING entry as PROCESSING.
	NextPending() (Entry, bool)
	// Requeue returns a claimed entry to PENDING with its attempt
	// counter incremented.
	Requeue(id string) error
	// Release returns a claimed entry to PENDING without counting an
	// attempt; used during graceful shutdown so work resumes on restart.
	Release(id string) error
	// Block marks the entry BLOCKED with a reason and timestamp.
	// Blocking is idempotent.
	Block(id, reason string) error
	// BlockURL records a sentinel BLOCKED entry for a URL. The sentinel
	// id is distinct from any entry currently processing the same URL,
	// so blocking a defective resource never derails the page that
	// referenced it. Idempotent per block key.
	BlockURL(url, reason string) (string, error)
	Get(id string) (Entry, error)
	CountByStatus(status EntryStatus) int
	GetByStatus(status EntryStatus) []Entry
	// Snapshot returns a copy of every entry, for persistence.
	Snapshot() []Entry
}

// PageHandle is one live browser page, exclusively owned by its slot for
// the duration of an assignment. It must not be retained after Close.
type PageHandle interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a script in the page and unmarshals the result into
	// out when out is non-nil.
	Evaluate(ctx context.Context, script string, out any) error
	QueryAll(ctx context.Context, selector string) ([]ElementRef, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Events exposes the bounded buffer of asynchronous page
	// notifications. The slot drains it at the start of every tick.
	Events() <-chan PageEvent
	Close(ctx context.Context) error
}

// PageDriver produces page handles for slots.
type PageDriver interface {
	Acquire(ctx context.Context) (PageHandle, error)
	Close(ctx context.Context) error
}

// Exporter renders the current page into document bytes.
type Exporter interface {
	Render(ctx context.Context, h PageHandle, opts ExportOptions) ([]byte, error)
}

// Processor is one prioritized unit of per-page work. Lower priority
// values execute earlier; a processor runs only when every
// lower-priority sibling in the same slot has settled.
type Processor interface {
	Name() string
	Priority() int
	// Detect maps current external state to a target processor state.
	// It is called every tick and must be side-effect-free apart from
	// internal bookkeeping.
	Detect(ctx context.Context, pc *PageContext) (State, error)
	// Run performs the processor's work. Invoked at most once per tick
	// and only when the priority gate clears it.
	Run(ctx context.Context, pc *PageContext) error
	// Finish cleans up. Invoked exactly once per assignment for every
	// processor that reached RUNNING or COMPLETED.
	Finish(ctx context.Context, pc *PageContext) error
}

// ProcessorFactory builds a fresh processor for one slot assignment.
// Instances are never reused across entries.
type ProcessorFactory func() Processor

// RetryDecider is consulted when an assignment times out. Returning true
// re-queues the entry as PENDING with its attempt counter incremented;
// false marks it FAILED.
type RetryDecider func(entry Entry, errs []error) bool

// MaxAttempts returns a RetryDecider allowing up to max re-queues.
func MaxAttempts(max int) RetryDecider {
	return func(entry Entry, _ []error) bool {
		return entry.Attempts < max
	}
}

// BlobStore persists exported artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher emits completion notifications to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints frontier entry ids.
type IDGenerator interface {
	NewID() string
}
