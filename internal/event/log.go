package event

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier is the fallback used when no brokers are configured: events
// land in the service log instead of a topic.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Publish(_ context.Context, ev Event) error {
	l.log.Info("event",
		zap.String("event", ev.Name),
		zap.String("event_id", ev.ID),
		zap.String("order_id", ev.OrderID),
		zap.Any("payload", ev.Payload),
	)
	return nil
}
