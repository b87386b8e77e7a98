// Package scheduler runs the bounded slot pool that binds frontier
// entries to browser pages and drives their processors tick by tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/progress"
)

// Config sizes and paces the slot pool.
type Config struct {
	// Slots is the number of concurrently bound pages (default 4).
	Slots int
	// PollInterval is the tick period of each slot (default 1s).
	PollInterval time.Duration
	// PageTimeout bounds one assignment wall time (default 60s).
	PageTimeout time.Duration
	// DetectTimeout bounds a single Detect call and the time a
	// gate-cleared processor may stay WAITING (default 5s).
	DetectTimeout time.Duration
	// EventBuffer bounds undrained page events per assignment (default 256).
	EventBuffer int
	// ExitWhenIdle stops Run once the frontier has no PENDING or
	// PROCESSING entries and every slot is unbound.
	ExitWhenIdle bool
}

func (c *Config) applyDefaults() {
	if c.Slots <= 0 {
		c.Slots = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 60 * time.Second
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 5 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// Options carries the scheduler's collaborators.
type Options struct {
	Frontier  docpress.Frontier
	Driver    docpress.PageDriver
	Factories []docpress.ProcessorFactory
	// Retry decides whether a timed-out assignment is re-queued.
	// Defaults to docpress.MaxAttempts(2).
	Retry   docpress.RetryDecider
	Emitter progress.Emitter
	Clock   docpress.Clock
	Logger  *zap.Logger
}

// ActivePage describes one bound slot for the inspection API.
type ActivePage struct {
	Slot       int                       `json:"slot"`
	EntryID    string                    `json:"entry_id"`
	URL        string                    `json:"url"`
	StartedAt  time.Time                 `json:"started_at"`
	Elapsed    time.Duration             `json:"elapsed"`
	Processors map[string]docpress.State `json:"processors"`
}

// Scheduler owns the slot pool. Create with New, run with Run.
type Scheduler struct {
	cfg      Config
	frontier docpress.Frontier
	driver   docpress.PageDriver
	retry    docpress.RetryDecider
	emitter  progress.Emitter
	clock    docpress.Clock
	logger   *zap.Logger
	slots    []*slot
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New validates the configuration and builds the slot pool.
func New(cfg Config, opts Options) (*Scheduler, error) {
	cfg.applyDefaults()
	if opts.Frontier == nil {
		return nil, fmt.Errorf("scheduler: frontier is required")
	}
	if opts.Driver == nil {
		return nil, fmt.Errorf("scheduler: page driver is required")
	}
	if len(opts.Factories) == 0 {
		return nil, fmt.Errorf("scheduler: at least one processor factory is required")
	}
	if opts.Retry == nil {
		opts.Retry = docpress.MaxAttempts(2)
	}
	if opts.Clock == nil {
		opts.Clock = wallClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Scheduler{
		cfg:      cfg,
		frontier: opts.Frontier,
		driver:   opts.Driver,
		retry:    opts.Retry,
		emitter:  opts.Emitter,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	s.slots = make([]*slot, cfg.Slots)
	for i := range s.slots {
		s.slots[i] = newSlot(i, s, opts.Factories)
	}
	return s, nil
}

// Run drives every slot until ctx is cancelled or, with ExitWhenIdle,
// until the frontier drains. Bound entries are released back to PENDING
// on shutdown so a restart resumes them.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, sl := range s.slots {
		sl := sl
		g.Go(func() error {
			sl.loop(gctx)
			return nil
		})
	}
	if s.cfg.ExitWhenIdle {
		g.Go(func() error {
			s.superviseIdle(gctx, cancel)
			return nil
		})
	}
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

// superviseIdle cancels the run once no work remains. Two consecutive
// idle observations are required so a slot mid-bind is not raced.
func (s *Scheduler) superviseIdle(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	idleSeen := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.idle() {
				idleSeen = false
				continue
			}
			if !idleSeen {
				idleSeen = true
				continue
			}
			s.logger.Info("frontier drained, stopping")
			cancel()
			return
		}
	}
}

func (s *Scheduler) idle() bool {
	if s.frontier.CountByStatus(docpress.StatusPending) > 0 {
		return false
	}
	if s.frontier.CountByStatus(docpress.StatusProcessing) > 0 {
		return false
	}
	for _, sl := range s.slots {
		if sl.bound() {
			return false
		}
	}
	return true
}

// ListActive snapshots every bound slot.
func (s *Scheduler) ListActive() []ActivePage {
	now := s.clock.Now()
	out := make([]ActivePage, 0, len(s.slots))
	for _, sl := range s.slots {
		if page, ok := sl.active(now); ok {
			out = append(out, page)
		}
	}
	return out
}

// Capture screenshots the page bound to the given slot.
func (s *Scheduler) Capture(ctx context.Context, slotIndex int) ([]byte, error) {
	if slotIndex < 0 || slotIndex >= len(s.slots) {
		return nil, fmt.Errorf("slot %d out of range", slotIndex)
	}
	return s.slots[slotIndex].capture(ctx)
}

// emit publishes a progress event, filling the timestamp.
func (s *Scheduler) emit(evt progress.Event) {
	if s.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	s.emitter.Emit(evt)
}
