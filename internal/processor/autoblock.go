package processor

import (
	"time"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/progress"
)

// Tracker applies the threshold-based auto-blocking rule: once a
// per-URL defect counter reaches the threshold, a sentinel BLOCKED
// entry is created in the frontier for that URL's block key. Each
// tracker instance covers one defect category for one slot assignment;
// a key is blocked at most once per assignment, and the frontier keeps
// repeated blocks idempotent across assignments.
type Tracker struct {
	frontier  docpress.Frontier
	emitter   progress.Emitter
	threshold int
	reason    string
	blocked   map[string]struct{}
	logger    *zap.Logger
}

// NewTracker builds a tracker. A threshold <= 0 disables blocking.
func NewTracker(
	frontier docpress.Frontier,
	threshold int,
	reason string,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		frontier:  frontier,
		emitter:   emitter,
		threshold: threshold,
		reason:    reason,
		blocked:   make(map[string]struct{}),
		logger:    logger,
	}
}

// Sweep evaluates every counter and blocks keys at or over the
// threshold. Returns how many new sentinels were created this sweep.
func (t *Tracker) Sweep(counts map[string]int) int {
	if t == nil || t.threshold <= 0 {
		return 0
	}
	created := 0
	for key, count := range counts {
		if count < t.threshold {
			continue
		}
		if _, done := t.blocked[key]; done {
			continue
		}
		id, err := t.frontier.BlockURL(key, t.reason)
		if err != nil {
			t.logger.Warn("failed to block url",
				zap.String("url", key), zap.Error(err))
			continue
		}
		t.blocked[key] = struct{}{}
		created++
		t.logger.Info("url blocked",
			zap.String("url", key),
			zap.String("reason", t.reason),
			zap.Int("count", count))
		if t.emitter != nil {
			t.emitter.Emit(progress.Event{
				EntryID: id,
				TS:      time.Now().UTC(),
				Stage:   progress.StageBlocked,
				URL:     key,
				Slot:    -1,
				Note:    t.reason,
			})
		}
	}
	return created
}
