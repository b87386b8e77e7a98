package sinks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/progress"
	"github.com/docpress/docpress/internal/store"
)

type fakeRepo struct {
	mu    sync.Mutex
	saves []store.Snapshot
}

func (r *fakeRepo) Save(_ context.Context, snap store.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, snap)
	return nil
}

func (r *fakeRepo) Load(context.Context) (store.Snapshot, error) {
	return store.Snapshot{}, store.ErrNotFound
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

type tickClock struct {
	now time.Time
}

func (c *tickClock) Now() time.Time { return c.now }

func TestStoreSinkCheckpointsOnTerminalEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	entries := []docpress.Entry{{ID: "e1", URL: "https://example.com/a", Status: docpress.StatusCompleted}}
	sink := NewStoreSink(repo, func() []docpress.Entry { return entries }, &tickClock{now: time.Unix(42, 0)}, nil)

	now := time.Now()
	// Bind-only batches are not checkpoint-worthy.
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{EntryID: "e1", TS: now, Stage: progress.StageBind},
	}))
	require.Zero(t, repo.count())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{EntryID: "e1", TS: now, Stage: progress.StageComplete},
	}))
	require.Equal(t, 1, repo.count())
	require.Len(t, repo.saves[0].Entries, 1)
	require.Equal(t, time.Unix(42, 0), repo.saves[0].TakenAt)
}

func TestStoreSinkCheckpointsOnRetryAndRelease(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	sink := NewStoreSink(repo, func() []docpress.Entry { return nil }, &tickClock{now: time.Unix(1, 0)}, nil)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{EntryID: "e1", TS: now, Stage: progress.StageRetry},
	}))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{EntryID: "e1", TS: now, Stage: progress.StageRelease},
	}))
	require.Equal(t, 2, repo.count())
}

func TestStoreSinkCloseWritesFinalSnapshot(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	sink := NewStoreSink(repo, func() []docpress.Entry { return nil }, &tickClock{now: time.Unix(1, 0)}, nil)
	require.NoError(t, sink.Close(context.Background()))
	require.Equal(t, 1, repo.count())
}

func TestStoreSinkNilRepoIsNoOp(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil, nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{EntryID: "e1", TS: time.Now(), Stage: progress.StageComplete},
	}))
	require.NoError(t, sink.Close(context.Background()))
}
