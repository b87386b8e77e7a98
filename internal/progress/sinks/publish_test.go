package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/progress"
	memorypub "github.com/docpress/docpress/internal/publisher/memory"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("broker unavailable")
}

func TestPublishSinkForwardsExports(t *testing.T) {
	t.Parallel()

	pub := memorypub.New()
	sink := NewPublishSink(pub, "docpress.exports", nil)

	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	batch := []progress.Event{
		{EntryID: "e1", TS: ts, Stage: progress.StageBind, URL: "https://docs.example.com/a"},
		{EntryID: "e1", TS: ts, Stage: progress.StageExport, URL: "https://docs.example.com/a", Bytes: 2048},
		{EntryID: "e1", TS: ts, Stage: progress.StageComplete, URL: "https://docs.example.com/a"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "docpress.exports", msgs[0].Topic)
	note, ok := msgs[0].Payload.(ExportNotification)
	require.True(t, ok)
	require.Equal(t, "e1", note.EntryID)
	require.Equal(t, int64(2048), note.Bytes)
	require.Equal(t, ts, note.At)
}

func TestPublishSinkReportsFirstError(t *testing.T) {
	t.Parallel()

	sink := NewPublishSink(failingPublisher{}, "docpress.exports", nil)
	batch := []progress.Event{
		{EntryID: "e1", Stage: progress.StageExport, URL: "https://docs.example.com/a"},
		{EntryID: "e2", Stage: progress.StageExport, URL: "https://docs.example.com/b"},
	}
	err := sink.Consume(context.Background(), batch)
	require.ErrorContains(t, err, "e1")
}

func TestPublishSinkNilPublisher(t *testing.T) {
	t.Parallel()

	var sink *PublishSink
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageExport}}))
	require.NoError(t, NewPublishSink(nil, "t", nil).Consume(context.Background(), nil))
}
