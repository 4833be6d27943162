package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/progress"
)

// LogSink emits structured logs for run progress streams. RUN_PROGRESS events
// are logged at debug level; lifecycle stages at info.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("kind", evt.Kind),
			zap.String("session", evt.Session),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stage == progress.StageRunProgress {
			fields = append(fields,
				zap.Int64("items", evt.Items),
				zap.Int64("failed", evt.Failed),
				zap.Int64("bytes", evt.Bytes),
			)
			s.logger.Debug("progress event", fields...)
			continue
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
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
