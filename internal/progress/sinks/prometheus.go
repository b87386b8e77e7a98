package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docpress/docpress/internal/progress"
)

// PrometheusSink exports scheduling metrics via Prometheus. It owns all
// collectors for entry outcomes, slot occupancy, blocking, and exports,
// registered against an injected registry rather than package globals.
type PrometheusSink struct {
	entriesBound  prometheus.Counter
	entriesDone   *prometheus.CounterVec
	slotsBusy     prometheus.Gauge
	assignmentDur *prometheus.HistogramVec

	urlsBlocked    prometheus.Counter
	procsCancelled *prometheus.CounterVec
	exportsTotal   prometheus.Counter
	exportBytes    prometheus.Counter

	tracker *entryTracker
}

// NewPrometheusSink registers the collectors against the provided
// registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		entriesBound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpress_entries_bound_total",
			Help: "Total frontier entries bound to a slot.",
		}),
		entriesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpress_entries_finished_total",
			Help: "Entries leaving a slot partitioned by outcome.",
		}, []string{"outcome"}),
		slotsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docpress_slots_busy",
			Help: "Slots currently bound to an entry.",
		}),
		assignmentDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docpress_assignment_duration_seconds",
			Help:    "Wall time per slot assignment partitioned by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		urlsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpress_urls_blocked_total",
			Help: "Sentinel block entries created by the auto-block rule.",
		}),
		procsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpress_processors_cancelled_total",
			Help: "Processor cancellations partitioned by processor name.",
		}, []string{"processor"}),
		exportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpress_exports_total",
			Help: "Documents rendered and stored.",
		}),
		exportBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpress_export_bytes_total",
			Help: "Bytes of rendered documents.",
		}),
		tracker: newEntryTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.entriesBound,
		s.entriesDone,
		s.slotsBusy,
		s.assignmentDur,
		s.urlsBlocked,
		s.procsCancelled,
		s.exportsTotal,
		s.exportBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It
// is safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageBind:
		s.entriesBound.Inc()
		if s.tracker.bind(evt.EntryID) {
			s.slotsBusy.Inc()
		}
	case progress.StageComplete:
		s.observeOutcome(evt, "completed")
	case progress.StageRetry:
		s.observeOutcome(evt, "retried")
	case progress.StageFail:
		s.observeOutcome(evt, "failed")
	case progress.StageRelease:
		s.observeOutcome(evt, "released")
	case progress.StageBlocked:
		s.urlsBlocked.Inc()
	case progress.StageProcCancel:
		s.procsCancelled.WithLabelValues(evt.Processor).Inc()
	case progress.StageExport:
		s.exportsTotal.Inc()
		if evt.Bytes > 0 {
			s.exportBytes.Add(float64(evt.Bytes))
		}
	}
}

func (s *PrometheusSink) observeOutcome(evt progress.Event, outcome string) {
	s.entriesDone.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.assignmentDur.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
	if s.tracker.unbind(evt.EntryID) {
		s.slotsBusy.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type entryTracker struct {
	mu    sync.Mutex
	bound map[string]struct{}
}

func newEntryTracker() *entryTracker {
	return &entryTracker{bound: make(map[string]struct{})}
}

func (t *entryTracker) bind(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.bound[id]; ok {
		return false
	}
	t.bound[id] = struct{}{}
	return true
}

func (t *entryTracker) unbind(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.bound[id]; !ok {
		return false
	}
	delete(t.bound, id)
	return true
}
