package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/docpress"
)

func TestPageMonitorRunsOnceThenCompletes(t *testing.T) {
	t.Parallel()

	h := newFakeHandle()
	pc := newTestContext(h)
	m := NewPageMonitor(time.Second, nil)

	state, err := m.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateReady, state)

	require.NoError(t, m.Run(context.Background(), pc))

	state, err = m.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateCompleted, state)
	require.Equal(t, time.Second, pc.Data["slow_cutoff"])
}

func TestApplyEventsAdvancesLoadState(t *testing.T) {
	t.Parallel()

	pc := newTestContext(newFakeHandle())
	require.Equal(t, docpress.PageLoading, pc.PageState)

	ApplyEvents(pc, []docpress.PageEvent{{Kind: docpress.EventDOMReady}}, 0)
	require.Equal(t, docpress.PageReady, pc.PageState)

	ApplyEvents(pc, []docpress.PageEvent{{Kind: docpress.EventLoad}}, 0)
	require.Equal(t, docpress.PageComplete, pc.PageState)

	// A stale dom_ready after load must not regress the state.
	ApplyEvents(pc, []docpress.PageEvent{{Kind: docpress.EventDOMReady}}, 0)
	require.Equal(t, docpress.PageComplete, pc.PageState)
}

func TestApplyEventsCountsDefectsByBlockKey(t *testing.T) {
	t.Parallel()

	pc := newTestContext(newFakeHandle())
	events := []docpress.PageEvent{
		{Kind: docpress.EventResponse, URL: "https://cdn.example.com/app.js?v=1", Duration: 3 * time.Second},
		{Kind: docpress.EventResponse, URL: "https://cdn.example.com/app.js?v=2", Duration: 5 * time.Second},
		{Kind: docpress.EventResponse, URL: "https://cdn.example.com/ok.css", Duration: 10 * time.Millisecond},
		{Kind: docpress.EventResponse, URL: "https://api.example.com/missing", Status: 404},
		{Kind: docpress.EventRequestFailed, URL: "https://api.example.com/missing", Failure: "net::ERR_FAILED"},
	}
	ApplyEvents(pc, events, time.Second)

	require.Equal(t, 2, pc.SlowCounts["https://cdn.example.com/app.js"])
	require.Zero(t, pc.SlowCounts["https://cdn.example.com/ok.css"])
	require.Equal(t, 2, pc.FailedCounts["https://api.example.com/missing"])
}

func TestRequestQualityMonitorSweepsUntilComplete(t *testing.T) {
	t.Parallel()

	frontier := newFakeFrontier()
	h := newFakeHandle()
	pc := newTestContext(h)
	cfg := QualityConfig{SlowCutoff: time.Second, SlowThreshold: 100, FailedThreshold: 2}
	m := NewRequestQualityMonitor(cfg, frontier, nil, nil)

	state, err := m.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateRunning, state)

	h.events <- docpress.PageEvent{Kind: docpress.EventRequestFailed, URL: "https://cdn.example.com/x.js"}
	pc.PullEvents()
	require.NoError(t, m.Run(context.Background(), pc))
	require.Zero(t, frontier.blockCount())

	h.events <- docpress.PageEvent{Kind: docpress.EventRequestFailed, URL: "https://cdn.example.com/x.js"}
	h.events <- docpress.PageEvent{Kind: docpress.EventLoad}
	pc.PullEvents()
	require.NoError(t, m.Run(context.Background(), pc))
	require.Equal(t, 1, frontier.blockCount())

	state, err = m.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateCompleted, state)
}
