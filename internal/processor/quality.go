package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/progress"
)

// QualityConfig tunes the request quality monitor.
type QualityConfig struct {
	// SlowCutoff marks a response as slow when its duration reaches the
	// cutoff. Zero disables slow tracking.
	SlowCutoff time.Duration
	// SlowThreshold blocks a URL once it has produced this many slow
	// responses within one assignment. Zero or negative disables.
	SlowThreshold int
	// FailedThreshold blocks a URL once it has produced this many failed
	// requests within one assignment. Zero or negative disables.
	FailedThreshold int
}

// DefaultQualityConfig returns the conventional thresholds for a page
// timeout: the cutoff is a tenth of the timeout, 100 slow responses or
// 10 failures block a resource.
func DefaultQualityConfig(pageTimeout time.Duration) QualityConfig {
	return QualityConfig{
		SlowCutoff:      pageTimeout / 10,
		SlowThreshold:   100,
		FailedThreshold: 10,
	}
}

// RequestQualityMonitor drains page events every tick, advances the
// page load state, and feeds the per-URL defect counters into the
// auto-block trackers. It stays RUNNING until the page reports its
// load event, so it is the live observer for the whole load phase.
type RequestQualityMonitor struct {
	cfg    QualityConfig
	slow   *Tracker
	failed *Tracker
	logger *zap.Logger
}

// NewRequestQualityMonitor builds the monitor with one tracker per
// defect category. frontier and emitter may be shared with other
// processors; the trackers are private to this assignment.
func NewRequestQualityMonitor(
	cfg QualityConfig,
	frontier docpress.Frontier,
	emitter progress.Emitter,
	logger *zap.Logger,
) *RequestQualityMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestQualityMonitor{
		cfg:    cfg,
		slow:   NewTracker(frontier, cfg.SlowThreshold, "slow requests", emitter, logger),
		failed: NewTracker(frontier, cfg.FailedThreshold, "failed requests", emitter, logger),
		logger: logger,
	}
}

// Name implements docpress.Processor.
func (m *RequestQualityMonitor) Name() string { return "request_quality" }

// Priority implements docpress.Processor.
func (m *RequestQualityMonitor) Priority() int { return PriorityRequestQuality }

// Detect keeps the monitor RUNNING until the page load completes.
func (m *RequestQualityMonitor) Detect(_ context.Context, pc *docpress.PageContext) (docpress.State, error) {
	if pc.PageState == docpress.PageComplete {
		return docpress.StateCompleted, nil
	}
	return docpress.StateRunning, nil
}

// Run folds this tick's events into the context and sweeps the defect
// counters against the blocking thresholds.
func (m *RequestQualityMonitor) Run(_ context.Context, pc *docpress.PageContext) error {
	ApplyEvents(pc, pc.TakeEvents(), m.cfg.SlowCutoff)
	m.slow.Sweep(pc.SlowCounts)
	m.failed.Sweep(pc.FailedCounts)
	return nil
}

// Finish logs the final counters for the assignment.
func (m *RequestQualityMonitor) Finish(_ context.Context, pc *docpress.PageContext) error {
	if dropped := pc.DroppedEvents(); dropped > 0 {
		m.logger.Warn("page events dropped at buffer limit",
			zap.String("entry_id", pc.Entry.ID),
			zap.Int("dropped", dropped))
	}
	m.logger.Debug("request quality finished",
		zap.String("entry_id", pc.Entry.ID),
		zap.Int("slow_urls", len(pc.SlowCounts)),
		zap.Int("failed_urls", len(pc.FailedCounts)))
	return nil
}
