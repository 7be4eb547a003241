package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/progress"
)

// LogSink writes each event as a structured log line.
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

// Consume logs each event in the batch. Failure stages log at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page), zap.Int("posts", evt.Posts))
		}
		if evt.PostID != "" {
			fields = append(fields, zap.String("post_id", evt.PostID))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Result != "" {
			fields = append(fields, zap.String("result", evt.Result))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		switch evt.Stage {
		case progress.StagePageFailed, progress.StagePostFailed, progress.StageRunError:
			s.logger.Warn("progress event", append(fields, zap.String("note", evt.Note))...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
