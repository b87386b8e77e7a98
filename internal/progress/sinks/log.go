// Package sinks contains Sink implementations for the progress hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is
// useful during development or audits where a durable store is
// unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("entry_id", evt.EntryID),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
			zap.Int("slot", evt.Slot),
			zap.Int("attempt", evt.Attempt),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Processor != "" {
			fields = append(fields, zap.String("processor", evt.Processor))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
