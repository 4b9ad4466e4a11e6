package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the order lifecycle
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	OrdersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders persisted",
		},
	)

	DisplayNumberRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "display_number_retries_total",
			Help: "Create transactions retried after a display number collision",
		},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Status transitions by requested status and outcome",
		},
		[]string{"status", "outcome"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound status notifications by result (sent, failed, suppressed, stale, dropped)",
		},
		[]string{"result"},
	)

	NotificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_duration_seconds",
			Help:    "Duration of outbound webhook calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_polls_total",
			Help: "List requests by outcome (full, delta, not_modified)",
		},
		[]string{"outcome"},
	)
)

// Register registers all Prometheus metrics with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OrdersCreatedTotal,
		DisplayNumberRetriesTotal,
		TransitionsTotal,
		NotificationsTotal,
		NotificationDuration,
		PollsTotal,
	)
}
