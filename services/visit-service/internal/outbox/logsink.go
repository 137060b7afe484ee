package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
)

// LogSink writes events as structured log lines. It stands in for the outbox
// when the service runs without Postgres.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, evt Event) error {
	s.logger.InfoContext(ctx, "visit event",
		"event_type", evt.EventType,
		"aggregate_type", evt.AggregateType,
		"aggregate_id", evt.AggregateID,
		"payload", json.RawMessage(evt.Payload),
	)
	return nil
}
