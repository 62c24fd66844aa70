package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/event"
)

// LogConsumer logs all domain events for observability.
type LogConsumer struct {
	logger *zap.Logger
}

func NewLogConsumer(logger *zap.Logger) *LogConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogConsumer{logger: logger.Named("event")}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	fields := []zap.Field{
		zap.String("type", evt.EventType),
		zap.String("category", evt.Category),
		zap.String("outcome", evt.Outcome),
	}
	if evt.SessionID != "" {
		fields = append(fields, zap.String("session", evt.SessionID))
	}
	if evt.EstimateID != "" {
		fields = append(fields, zap.String("estimate", evt.EstimateID))
	}
	c.logger.Info(evt.Summary, fields...)
	return nil
}
