package notify

import (
	"context"
	"log/slog"

	"restaurant-orders-api/metrics"

	"golang.org/x/sync/errgroup"
)

// Queue moves delivery off the request path. Notifications are sharded by
// order id onto single-goroutine workers, so one order's notifications are
// delivered in commit order. A full shard drops the notification.
type Queue struct {
	next   Dispatcher
	shards []chan Notification
	log    *slog.Logger
}

func NewQueue(next Dispatcher, workers, size int, log *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{next: next, shards: make([]chan Notification, workers), log: log}
	for i := range q.shards {
		q.shards[i] = make(chan Notification, size)
	}
	return q
}

// Notify enqueues n without blocking. Externally originated notifications
// are queued too so the next dispatcher sees their versions in order.
func (q *Queue) Notify(_ context.Context, n Notification) {
	select {
	case q.shards[shardOf(n.OrderID, len(q.shards))] <- n:
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		q.log.Warn("notification queue full, dropping", "order_id", n.OrderID, "status", n.Status)
	}
}

// Run delivers queued notifications until ctx is done, then drains what is
// already buffered.
func (q *Queue) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, ch := range q.shards {
		ch := ch
		g.Go(func() error {
			for {
				select {
				case n := <-ch:
					q.next.Notify(context.Background(), n)
				case <-ctx.Done():
					q.drain(ch)
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (q *Queue) drain(ch chan Notification) {
	for {
		select {
		case n := <-ch:
			q.next.Notify(context.Background(), n)
		default:
			return
		}
	}
}
