package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the structured log. It is the sink used when
// no Kafka brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	attrs := []any{
		"event_id", event.ID,
		"event_type", event.Type,
		"user_id", event.UserID,
		"request_id", event.RequestID,
	}
	if event.StepID != nil {
		attrs = append(attrs,
			"step_id", *event.StepID,
			"from_status", event.FromStatus,
			"to_status", event.ToStatus,
		)
	}
	p.logger.InfoContext(ctx, "verification event", attrs...)
	return nil
}
