package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher records events in the application log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the message.
func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.logger.Info("domain event",
		zap.String("event_id", msg.ID),
		zap.String("event_type", msg.Type),
		zap.String("key", msg.Key),
		zap.Time("occurred_at", msg.OccurredAt),
		zap.ByteString("payload", msg.Payload),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
