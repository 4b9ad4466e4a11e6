// Package notify delivers order status changes to the fulfillment backend.
// Delivery is best effort and at most once: failures are logged and counted,
// never returned to the code that committed the transition.
package notify

import (
	"context"

	"restaurant-orders-api/metrics"
	"restaurant-orders-api/models"
)

// Notification describes one committed transition.
type Notification struct {
	OrderID string
	Status  models.OrderStatus
	Origin  models.Origin
	Version int64
}

// Dispatcher is implemented by every delivery strategy.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification)
}

// Suppressed reports whether n must not be sent because the backend itself
// initiated the change.
func Suppressed(n Notification) bool {
	if n.Origin == models.OriginExternal {
		metrics.NotificationsTotal.WithLabelValues("suppressed").Inc()
		return true
	}
	return false
}

// Nop drops every notification. Used when no backend is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }
