package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/progress"
)

// ExportNotification is the payload published for each stored artifact.
type ExportNotification struct {
	EntryID string    `json:"entry_id"`
	URL     string    `json:"url"`
	Bytes   int64     `json:"bytes"`
	At      time.Time `json:"at"`
}

// PublishSink forwards export completions to a publisher topic so
// downstream consumers learn about new artifacts without polling the
// blob store.
type PublishSink struct {
	publisher docpress.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink wires a publisher and topic to the sink interface.
func NewPublishSink(publisher docpress.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes one notification per export event in the batch.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var firstErr error
	for _, evt := range batch {
		if evt.Stage != progress.StageExport {
			continue
		}
		payload := ExportNotification{
			EntryID: evt.EntryID,
			URL:     evt.URL,
			Bytes:   evt.Bytes,
			At:      evt.TS,
		}
		id, err := s.publisher.Publish(ctx, s.topic, payload)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish export notification for %s: %w", evt.EntryID, err)
			}
			s.logger.Warn("export notification publish failed",
				zap.String("entry_id", evt.EntryID), zap.Error(err))
			continue
		}
		s.logger.Debug("export notification published",
			zap.String("entry_id", evt.EntryID), zap.String("message_id", id))
	}
	return firstErr
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
