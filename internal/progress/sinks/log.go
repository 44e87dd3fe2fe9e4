// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oeistools/oeissync/internal/progress"
)

// LogSink emits structured logs for the progress stream. It is useful during
// development or audits where no metrics backend is available.
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
			zap.String("pass_id", uuid.UUID(evt.PassID).String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Record != 0 {
			fields = append(fields, zap.Stringer("record", evt.Record))
		}
		if evt.Kind != "" {
			fields = append(fields, zap.String("kind", string(evt.Kind)))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Checkpoint != 0 {
			fields = append(fields, zap.Stringer("checkpoint", evt.Checkpoint))
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
