package processor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/progress"
)

func TestTrackerBlocksOnExactThreshold(t *testing.T) {
	t.Parallel()

	frontier := newFakeFrontier()
	emitter := &fakeEmitter{}
	tracker := NewTracker(frontier, 5, "failed requests", emitter, nil)

	counts := map[string]int{}
	key := "https://cdn.example.com/broken.js"
	for i := 1; i <= 4; i++ {
		counts[key] = i
		require.Zero(t, tracker.Sweep(counts), "tick %d must not block", i)
	}
	require.Zero(t, frontier.blockCount())

	counts[key] = 5
	require.Equal(t, 1, tracker.Sweep(counts))
	require.Equal(t, 1, frontier.blockCount())

	events := emitter.all()
	require.Len(t, events, 1)
	require.Equal(t, progress.StageBlocked, events[0].Stage)
	require.Equal(t, "failed requests", events[0].Note)
	require.Equal(t, -1, events[0].Slot)
}

func TestTrackerBlocksEachKeyOnce(t *testing.T) {
	t.Parallel()

	frontier := newFakeFrontier()
	tracker := NewTracker(frontier, 3, "slow requests", nil, nil)

	counts := map[string]int{"https://cdn.example.com/a.css": 3}
	require.Equal(t, 1, tracker.Sweep(counts))

	counts["https://cdn.example.com/a.css"] = 9
	require.Zero(t, tracker.Sweep(counts))
	require.Equal(t, 1, frontier.blockCount())
}

func TestTrackerDisabledByThreshold(t *testing.T) {
	t.Parallel()

	frontier := newFakeFrontier()
	tracker := NewTracker(frontier, 0, "slow requests", nil, nil)
	require.Zero(t, tracker.Sweep(map[string]int{"https://x.example.com/": 100}))
	require.Zero(t, frontier.blockCount())
}
