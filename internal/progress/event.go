// Package progress defines the event stream emitted by the scheduler
// and fans it out to observability sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	// StageBind: a slot claimed a frontier entry and acquired a page.
	StageBind Stage = "ENTRY_BIND"
	// StageComplete: every processor finished and the entry completed.
	StageComplete Stage = "ENTRY_COMPLETE"
	// StageRetry: the assignment timed out and was re-queued.
	StageRetry Stage = "ENTRY_RETRY"
	// StageFail: the retry decider declined, entry marked FAILED.
	StageFail Stage = "ENTRY_FAIL"
	// StageRelease: shutdown returned the entry to PENDING.
	StageRelease Stage = "ENTRY_RELEASE"
	// StageBlocked: the auto-block rule created a sentinel entry.
	StageBlocked Stage = "URL_BLOCKED"
	// StageProcCancel: a processor was cancelled (failure or detect
	// timeout) without aborting its siblings.
	StageProcCancel Stage = "PROC_CANCELLED"
	// StageExport: an artifact was rendered and stored.
	StageExport Stage = "EXPORT_DONE"
)

// Event captures one scheduling milestone.
type Event struct {
	// EntryID identifies the frontier entry the milestone refers to.
	EntryID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL is the entry's normalized URL.
	URL string
	// Slot is the slot index driving the entry; -1 when not slot-bound.
	Slot int
	// Processor scopes processor-level stages to a name.
	Processor string
	// Attempt carries the entry's attempt counter at emission time.
	Attempt int
	// Dur captures assignment wall time for terminal stages.
	Dur time.Duration
	// Bytes carries the artifact size for export stages.
	Bytes int64
	// Note attaches low-volume context such as error text or a block
	// reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.EntryID == "" {
		return errors.New("entry id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBind, StageComplete, StageRetry, StageFail, StageRelease, StageBlocked, StageExport:
	case StageProcCancel:
		if e.Processor == "" {
			return errors.New("processor cancel requires processor name")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends an entry's lifecycle, which
// the store sink uses as its checkpoint trigger.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageComplete, StageFail, StageBlocked:
		return true
	default:
		return false
	}
}
