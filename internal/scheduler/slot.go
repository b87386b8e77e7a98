package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/processor"
	"github.com/docpress/docpress/internal/progress"
)

// slot is one worker in the pool. All assignment state is guarded by mu
// so the inspection API can observe it from other goroutines; the tick
// itself runs only on the slot's own goroutine.
type slot struct {
	index     int
	sched     *Scheduler
	factories []docpress.ProcessorFactory
	logger    *zap.Logger

	mu           sync.Mutex
	pc           *docpress.PageContext
	procs        []docpress.Processor
	ranOnce      map[string]bool
	procErrs     []error
	waitingSince time.Time
	waitingName  string
}

func newSlot(index int, sched *Scheduler, factories []docpress.ProcessorFactory) *slot {
	return &slot{
		index:     index,
		sched:     sched,
		factories: factories,
		logger:    sched.logger.With(zap.Int("slot", index)),
	}
}

// loop ticks until ctx is cancelled, then releases any bound entry.
func (sl *slot) loop(ctx context.Context) {
	ticker := time.NewTicker(sl.sched.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sl.shutdown()
			return
		case <-ticker.C:
			sl.tick(ctx)
		}
	}
}

func (sl *slot) bound() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.pc != nil
}

func (sl *slot) active(now time.Time) (ActivePage, bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pc == nil {
		return ActivePage{}, false
	}
	return ActivePage{
		Slot:       sl.index,
		EntryID:    sl.pc.Entry.ID,
		URL:        sl.pc.Entry.URL,
		StartedAt:  sl.pc.StartedAt,
		Elapsed:    sl.pc.Elapsed(now),
		Processors: sl.pc.States(),
	}, true
}

func (sl *slot) capture(ctx context.Context) ([]byte, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pc == nil {
		return nil, fmt.Errorf("slot %d is not bound", sl.index)
	}
	return sl.pc.Page.Screenshot(ctx)
}

// tick advances the slot by one step: bind when empty, otherwise drain
// events, enforce the assignment timeout, detect, finish, and run at
// most one processor through the priority gate.
func (sl *slot) tick(ctx context.Context) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.pc == nil {
		sl.bind(ctx)
		return
	}

	sl.pc.PullEvents()

	now := sl.sched.clock.Now()
	if sl.pc.Elapsed(now) >= sl.sched.cfg.PageTimeout {
		sl.timeoutLocked(ctx)
		return
	}

	sl.detectPass(ctx)
	sl.finishPass(ctx)
	sl.gatePass(ctx, now)

	if sl.drained() {
		sl.completeLocked(ctx)
	}
}

// bind claims the next pending entry and acquires a page for it.
func (sl *slot) bind(ctx context.Context) {
	entry, ok := sl.sched.frontier.NextPending()
	if !ok {
		return
	}

	handle, err := sl.sched.driver.Acquire(ctx)
	if err != nil {
		sl.logger.Warn("page acquisition failed", zap.String("entry_id", entry.ID), zap.Error(err))
		sl.resolveFailure(entry, []error{err}, err)
		return
	}

	navCtx, cancel := context.WithTimeout(ctx, sl.sched.cfg.PageTimeout)
	err = handle.Navigate(navCtx, entry.URL)
	cancel()
	if err != nil {
		sl.logger.Warn("navigation failed",
			zap.String("entry_id", entry.ID), zap.String("url", entry.URL), zap.Error(err))
		_ = handle.Close(ctx)
		sl.resolveFailure(entry, []error{err}, err)
		return
	}

	procs := processor.Instantiate(sl.factories)
	pc := docpress.NewPageContext(sl.index, entry, handle, sl.sched.clock.Now(), sl.sched.cfg.EventBuffer)
	for _, p := range procs {
		pc.SetState(p.Name(), docpress.StateWaiting)
	}

	sl.pc = pc
	sl.procs = procs
	sl.ranOnce = make(map[string]bool, len(procs))
	sl.procErrs = nil
	sl.waitingSince = time.Time{}
	sl.waitingName = ""

	sl.logger.Info("entry bound",
		zap.String("entry_id", entry.ID),
		zap.String("url", entry.URL),
		zap.Int("attempt", entry.Attempts))
	sl.sched.emit(progress.Event{
		EntryID: entry.ID,
		Stage:   progress.StageBind,
		URL:     entry.URL,
		Slot:    sl.index,
		Attempt: entry.Attempts,
	})
}

// detectPass asks every unsettled processor for its target state.
func (sl *slot) detectPass(ctx context.Context) {
	for _, p := range sl.procs {
		name := p.Name()
		if sl.pc.State(name).Settled() {
			continue
		}
		detectCtx, cancel := context.WithTimeout(ctx, sl.sched.cfg.DetectTimeout)
		state, err := p.Detect(detectCtx, sl.pc)
		cancel()
		if err != nil {
			sl.cancelProcessor(name, "detect", err)
			continue
		}
		sl.pc.SetState(name, state)
	}
}

// finishPass finalizes settled processors, highest priority first so
// dependents clean up before the work they depended on.
func (sl *slot) finishPass(ctx context.Context) {
	for i := len(sl.procs) - 1; i >= 0; i-- {
		p := sl.procs[i]
		name := p.Name()
		switch sl.pc.State(name) {
		case docpress.StateCompleted:
			sl.finishProcessor(ctx, p)
		case docpress.StateCancelled:
			if sl.ranOnce[name] {
				sl.finishProcessor(ctx, p)
			} else {
				sl.pc.SetState(name, docpress.StateFinished)
			}
		}
	}
}

func (sl *slot) finishProcessor(ctx context.Context, p docpress.Processor) {
	name := p.Name()
	if err := sl.runPhase(ctx, name, "finish", func(c context.Context) error {
		return p.Finish(c, sl.pc)
	}); err != nil {
		sl.procErrs = append(sl.procErrs, err)
		sl.logger.Warn("processor finish failed", zap.String("processor", name), zap.Error(err))
	}
	sl.pc.SetState(name, docpress.StateFinished)
}

// gatePass runs at most one processor: the lowest-priority unsettled
// one, and only when it reports READY or RUNNING. A gate-cleared
// processor stuck in WAITING past the detect timeout is cancelled.
func (sl *slot) gatePass(ctx context.Context, now time.Time) {
	for _, p := range sl.procs {
		name := p.Name()
		state := sl.pc.State(name)
		if state.Settled() {
			continue
		}

		if state == docpress.StateWaiting {
			if sl.waitingName != name {
				sl.waitingName = name
				sl.waitingSince = now
				return
			}
			if now.Sub(sl.waitingSince) > sl.sched.cfg.DetectTimeout {
				sl.cancelProcessor(name, "detect", docpress.ErrDetectTimeout)
				sl.waitingName = ""
			}
			return
		}
		sl.waitingName = ""

		sl.pc.SetState(name, docpress.StateRunning)
		sl.ranOnce[name] = true
		if err := sl.runPhase(ctx, name, "run", func(c context.Context) error {
			return p.Run(c, sl.pc)
		}); err != nil {
			sl.cancelProcessor(name, "run", err)
		}
		return
	}
}

// runPhase invokes one processor phase with panic isolation.
func (sl *slot) runPhase(ctx context.Context, name, phase string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &docpress.ProcessorFailure{
				Processor: name,
				Phase:     phase,
				Err:       fmt.Errorf("panic: %v", r),
			}
		}
	}()
	if callErr := fn(ctx); callErr != nil {
		return &docpress.ProcessorFailure{Processor: name, Phase: phase, Err: callErr}
	}
	return nil
}

// cancelProcessor isolates a failed processor without aborting its
// siblings.
func (sl *slot) cancelProcessor(name, phase string, err error) {
	failure := err
	if _, ok := err.(*docpress.ProcessorFailure); !ok {
		failure = &docpress.ProcessorFailure{Processor: name, Phase: phase, Err: err}
	}
	sl.procErrs = append(sl.procErrs, failure)
	sl.pc.SetState(name, docpress.StateCancelled)
	sl.logger.Warn("processor cancelled",
		zap.String("processor", name),
		zap.String("phase", phase),
		zap.Error(err))
	sl.sched.emit(progress.Event{
		EntryID:   sl.pc.Entry.ID,
		Stage:     progress.StageProcCancel,
		URL:       sl.pc.Entry.URL,
		Slot:      sl.index,
		Processor: name,
		Note:      err.Error(),
	})
}

func (sl *slot) drained() bool {
	for _, p := range sl.procs {
		if sl.pc.State(p.Name()) != docpress.StateFinished {
			return false
		}
	}
	return len(sl.procs) > 0
}

// completeLocked marks the entry COMPLETED and releases the slot.
func (sl *slot) completeLocked(ctx context.Context) {
	entry := sl.pc.Entry
	dur := sl.pc.Elapsed(sl.sched.clock.Now())
	if err := sl.sched.frontier.UpdateStatus(entry.ID, docpress.StatusCompleted); err != nil {
		sl.logger.Warn("status update failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
	sl.logger.Info("entry completed",
		zap.String("entry_id", entry.ID),
		zap.Duration("elapsed", dur),
		zap.Int("processor_errors", len(sl.procErrs)))
	sl.sched.emit(progress.Event{
		EntryID: entry.ID,
		Stage:   progress.StageComplete,
		URL:     entry.URL,
		Slot:    sl.index,
		Attempt: entry.Attempts,
		Dur:     dur,
	})
	sl.releaseLocked(ctx)
}

// timeoutLocked tears down an assignment that exceeded the page
// timeout and consults the retry decider.
func (sl *slot) timeoutLocked(ctx context.Context) {
	entry := sl.pc.Entry
	errs := append(append([]error(nil), sl.procErrs...), docpress.ErrSlotTimeout)
	sl.logger.Warn("assignment timed out",
		zap.String("entry_id", entry.ID),
		zap.String("url", entry.URL),
		zap.Int("attempt", entry.Attempts))
	sl.forceFinishLocked(ctx)
	sl.releaseLocked(ctx)
	sl.resolveFailure(entry, errs, docpress.ErrSlotTimeout)
}

// resolveFailure either re-queues the entry or marks it FAILED.
func (sl *slot) resolveFailure(entry docpress.Entry, errs []error, cause error) {
	if sl.sched.retry(entry, errs) {
		if err := sl.sched.frontier.Requeue(entry.ID); err != nil {
			sl.logger.Warn("requeue failed", zap.String("entry_id", entry.ID), zap.Error(err))
			return
		}
		sl.sched.emit(progress.Event{
			EntryID: entry.ID,
			Stage:   progress.StageRetry,
			URL:     entry.URL,
			Slot:    sl.index,
			Attempt: entry.Attempts + 1,
			Note:    cause.Error(),
		})
		return
	}
	if err := sl.sched.frontier.UpdateStatus(entry.ID, docpress.StatusFailed); err != nil {
		sl.logger.Warn("status update failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
	sl.sched.emit(progress.Event{
		EntryID: entry.ID,
		Stage:   progress.StageFail,
		URL:     entry.URL,
		Slot:    sl.index,
		Attempt: entry.Attempts,
		Note:    fmt.Sprintf("%v: %v", docpress.ErrRetryExhausted, cause),
	})
}

// forceFinishLocked finishes every processor that ran, for teardown
// paths that skip the normal finish pass.
func (sl *slot) forceFinishLocked(ctx context.Context) {
	for i := len(sl.procs) - 1; i >= 0; i-- {
		p := sl.procs[i]
		name := p.Name()
		if sl.pc.State(name) == docpress.StateFinished {
			continue
		}
		if sl.ranOnce[name] || sl.pc.State(name) == docpress.StateCompleted {
			sl.finishProcessor(ctx, p)
		} else {
			sl.pc.SetState(name, docpress.StateFinished)
		}
	}
}

// releaseLocked closes the page and clears the assignment.
func (sl *slot) releaseLocked(ctx context.Context) {
	if sl.pc == nil {
		return
	}
	if err := sl.pc.Page.Close(ctx); err != nil {
		sl.logger.Warn("page close failed", zap.Error(err))
	}
	sl.pc = nil
	sl.procs = nil
	sl.ranOnce = nil
	sl.procErrs = nil
	sl.waitingSince = time.Time{}
	sl.waitingName = ""
}

// shutdown returns a bound entry to PENDING so a restart resumes it.
func (sl *slot) shutdown() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pc == nil {
		return
	}
	entry := sl.pc.Entry
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sl.forceFinishLocked(ctx)
	sl.releaseLocked(ctx)
	if err := sl.sched.frontier.Release(entry.ID); err != nil {
		sl.logger.Warn("release failed", zap.String("entry_id", entry.ID), zap.Error(err))
		return
	}
	sl.logger.Info("entry released for resume", zap.String("entry_id", entry.ID))
	sl.sched.emit(progress.Event{
		EntryID: entry.ID,
		Stage:   progress.StageRelease,
		URL:     entry.URL,
		Slot:    sl.index,
		Attempt: entry.Attempts,
	})
}
