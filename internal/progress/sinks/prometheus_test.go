package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/progress"
)

func TestPrometheusSinkTracksSlotOccupancy(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{EntryID: "e1", TS: now, Stage: progress.StageBind, Slot: 0},
		{EntryID: "e2", TS: now, Stage: progress.StageBind, Slot: 1},
		{EntryID: "e1", TS: now, Stage: progress.StageComplete, Dur: 2 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(2), testutil.ToFloat64(sink.entriesBound))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.slotsBusy))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.entriesDone.WithLabelValues("completed")))
}

func TestPrometheusSinkCountsBlocksAndExports(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{EntryID: "b1", TS: now, Stage: progress.StageBlocked, Note: "slow requests"},
		{EntryID: "e1", TS: now, Stage: progress.StageProcCancel, Processor: "links_finder"},
		{EntryID: "e1", TS: now, Stage: progress.StageExport, Bytes: 2048},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.urlsBlocked))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.procsCancelled.WithLabelValues("links_finder")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.exportsTotal))
	require.Equal(t, float64(2048), testutil.ToFloat64(sink.exportBytes))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
