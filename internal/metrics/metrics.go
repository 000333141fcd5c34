// Package metrics exposes Prometheus counters for the pipeline. The CLIs
// do not mount an exporter endpoint themselves; the default registry is
// populated so an embedding process can.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesConsumed counts main-stream entries read by the consumer,
	// labeled by event type.
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_messages_consumed_total",
			Help: "Total number of stream entries consumed",
		},
		[]string{"type"},
	)

	// EmailsSent counts successful deliveries by notification type.
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_emails_sent_total",
			Help: "Total number of emails delivered",
		},
		[]string{"type"},
	)

	// EmailsSkipped counts deliveries short-circuited by the idempotency
	// ledger.
	EmailsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_emails_skipped_total",
			Help: "Total number of deliveries skipped as duplicates",
		},
		[]string{"type"},
	)

	// RetryAttempts counts send retries by notification type.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retry_attempts_total",
			Help: "Total number of email send retries",
		},
		[]string{"type"},
	)

	// DLQMessages counts entries written to the dead-letter stream.
	DLQMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dlq_messages_total",
			Help: "Total number of entries written to the DLQ",
		},
		[]string{"type"},
	)

	// SendDuration observes end-to-end per-recipient delivery time,
	// including backoff sleeps.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_send_duration_seconds",
			Help:    "Per-recipient delivery duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)
)
