package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Lifecycle event names published by the order service.
const (
	OrderCreated       = "ORDER_CREATED"
	OrderStatusChanged = "ORDER_STATUS_CHANGED"
	OrderCancelled     = "ORDER_CANCELLED"
	OrderShipped       = "ORDER_SHIPPED"
	OrderDelivered     = "ORDER_DELIVERED"
	PaymentCompleted   = "PAYMENT_COMPLETED"
	PaymentRefunded    = "PAYMENT_REFUNDED"
)

// Event is the envelope sent to downstream consumers (notification
// service, analytics).
type Event struct {
	ID         string         `json:"event_id"`
	Name       string         `json:"name"`
	OrderID    string         `json:"order_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Notifier delivers events at-least-once, best effort.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher fans lifecycle events out without blocking the caller.
// Publish failures are logged and never surfaced: notification is not
// part of the consistency boundary.
type Dispatcher struct {
	notifier Notifier
	log      *zap.Logger
	timeout  time.Duration
}

func NewDispatcher(n Notifier, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{notifier: n, log: log, timeout: 10 * time.Second}
}

// Dispatch publishes asynchronously. The event gets its own context, so
// the triggering request can return (or be cancelled) independently.
func (d *Dispatcher) Dispatch(name, orderID string, payload map[string]any) {
	if d == nil || d.notifier == nil {
		return
	}
	ev := Event{
		ID:         uuid.NewString(),
		Name:       name,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Publish(ctx, ev); err != nil {
			d.log.Warn("event publish failed",
				zap.String("event", ev.Name),
				zap.String("event_id", ev.ID),
				zap.String("order_id", ev.OrderID),
				zap.Error(err),
			)
		}
	}()
}
