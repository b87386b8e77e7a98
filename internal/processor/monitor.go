package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
)

// PageMonitor is the first processor in every set. It seeds the page
// bookkeeping for the assignment and applies any events that arrived
// during navigation, so later processors observe a consistent starting
// state.
type PageMonitor struct {
	slowCutoff time.Duration
	logger     *zap.Logger
	ran        bool
}

// NewPageMonitor builds a monitor. slowCutoff marks responses slower
// than the cutoff as slow; the conventional value is a tenth of the
// page timeout.
func NewPageMonitor(slowCutoff time.Duration, logger *zap.Logger) *PageMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageMonitor{slowCutoff: slowCutoff, logger: logger}
}

// Name implements docpress.Processor.
func (m *PageMonitor) Name() string { return "page_monitor" }

// Priority implements docpress.Processor.
func (m *PageMonitor) Priority() int { return PriorityPageMonitor }

// Detect reports READY until the first run, COMPLETED afterwards.
func (m *PageMonitor) Detect(_ context.Context, _ *docpress.PageContext) (docpress.State, error) {
	if m.ran {
		return docpress.StateCompleted, nil
	}
	return docpress.StateReady, nil
}

// Run applies the navigation-time events and records the slow cutoff
// for the quality monitor.
func (m *PageMonitor) Run(_ context.Context, pc *docpress.PageContext) error {
	ApplyEvents(pc, pc.TakeEvents(), m.slowCutoff)
	pc.Data["slow_cutoff"] = m.slowCutoff
	m.ran = true
	return nil
}

// Finish implements docpress.Processor.
func (m *PageMonitor) Finish(_ context.Context, pc *docpress.PageContext) error {
	m.logger.Debug("page monitor finished",
		zap.String("entry_id", pc.Entry.ID),
		zap.String("page_state", string(pc.PageState)))
	return nil
}

// ApplyEvents folds drained page events into the context: page load
// state transitions plus slow and failed request counters keyed by the
// URL's block key.
func ApplyEvents(pc *docpress.PageContext, events []docpress.PageEvent, slowCutoff time.Duration) {
	for _, ev := range events {
		switch ev.Kind {
		case docpress.EventDOMReady:
			if pc.PageState == docpress.PageLoading {
				pc.PageState = docpress.PageReady
			}
		case docpress.EventLoad:
			pc.PageState = docpress.PageComplete
		case docpress.EventResponse:
			if slowCutoff > 0 && ev.Duration >= slowCutoff {
				pc.SlowCounts[docpress.BlockKey(ev.URL)]++
			}
			if ev.Status >= 400 {
				pc.FailedCounts[docpress.BlockKey(ev.URL)]++
			}
		case docpress.EventRequestFailed:
			pc.FailedCounts[docpress.BlockKey(ev.URL)]++
		case docpress.EventRequestStart:
			// Starts carry no defect signal; counted implicitly by
			// their response or failure event.
		}
	}
}
