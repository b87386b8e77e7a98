package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/progress"
	"github.com/docpress/docpress/internal/store"
)

// StoreSink checkpoints the frontier whenever a batch carries a
// lifecycle-ending event, so a restart resumes from the last terminal
// outcome instead of re-processing finished work. Snapshotting per batch
// rather than per event keeps write amplification bounded.
type StoreSink struct {
	repo     store.Repository
	snapshot func() []docpress.Entry
	clock    docpress.Clock
	logger   *zap.Logger
}

// NewStoreSink constructs a StoreSink. snapshot is typically
// Frontier.Snapshot.
func NewStoreSink(
	repo store.Repository,
	snapshot func() []docpress.Entry,
	clock docpress.Clock,
	logger *zap.Logger,
) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, snapshot: snapshot, clock: clock, logger: logger}
}

// Consume persists one frontier snapshot if the batch contains any
// checkpoint-worthy event.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil || s.snapshot == nil {
		return nil
	}
	if !s.shouldCheckpoint(batch) {
		return nil
	}
	snap := store.FromEntries(s.snapshot(), s.clock.Now())
	if err := s.repo.Save(ctx, snap); err != nil {
		return fmt.Errorf("checkpoint frontier: %w", err)
	}
	s.logger.Debug("frontier checkpoint saved", zap.Int("entries", len(snap.Entries)))
	return nil
}

func (s *StoreSink) shouldCheckpoint(batch []progress.Event) bool {
	for _, evt := range batch {
		if evt.Terminal() {
			return true
		}
		switch evt.Stage {
		case progress.StageRetry, progress.StageRelease:
			return true
		}
	}
	return false
}

// Close persists one final snapshot so shutdown state survives restarts.
func (s *StoreSink) Close(ctx context.Context) error {
	if s == nil || s.repo == nil || s.snapshot == nil {
		return nil
	}
	snap := store.FromEntries(s.snapshot(), s.clock.Now())
	if err := s.repo.Save(ctx, snap); err != nil {
		return fmt.Errorf("final frontier checkpoint: %w", err)
	}
	return nil
}
