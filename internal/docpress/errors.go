package docpress

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the frontier and the scheduler. All
// processor-local failures are recovered at the slot boundary; only
// ErrUnknownEntry and driver-acquisition failures abort an assignment.
var (
	// ErrUnknownEntry reports a frontier operation on an absent id.
	ErrUnknownEntry = errors.New("unknown frontier entry")
	// ErrDetectTimeout reports a processor stuck in WAITING past the
	// detect timeout; the processor is forced to CANCELLED.
	ErrDetectTimeout = errors.New("detect timed out")
	// ErrSlotTimeout reports an assignment exceeding the page timeout.
	ErrSlotTimeout = errors.New("slot assignment timed out")
	// ErrRetryExhausted reports that the retry decider declined another
	// attempt; the entry is marked FAILED.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrDriverClosed reports use of a page driver after Close.
	ErrDriverClosed = errors.New("page driver closed")
)

// ProcessorFailure wraps an error raised inside a processor phase. The
// failure is isolated to that processor; siblings in the same slot are
// unaffected.
type ProcessorFailure struct {
	Processor string
	Phase     string
	Err       error
}

func (e *ProcessorFailure) Error() string {
	return fmt.Sprintf("processor %s %s: %v", e.Processor, e.Phase, e.Err)
}

func (e *ProcessorFailure) Unwrap() error {
	return e.Err
}
