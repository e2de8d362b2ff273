// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// PushEventsTotal tracks inbound push events by type.
	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_events_total",
			Help: "Inbound push events dispatched",
		},
		[]string{"type"},
	)

	// PushEventsDropped tracks malformed push events discarded by the dispatcher.
	PushEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_events_dropped_total",
			Help: "Malformed push events dropped",
		},
	)

	// SendsInFlight tracks optimistic sends awaiting reconciliation.
	SendsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sends_in_flight",
			Help: "Optimistic sends awaiting server acknowledgement",
		},
	)

	// SendsTotal tracks completed send attempts by outcome.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sends_total",
			Help: "Send attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ReceiptPromotions tracks receipt state transitions applied to the store.
	ReceiptPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_promotions_total",
			Help: "Receipt state promotions by target state",
		},
		[]string{"state"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// UnreadMessages tracks the total unread count across conversations.
	UnreadMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "unread_messages",
			Help: "Unread messages across all conversations",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSend records the outcome of a send attempt.
func RecordSend(outcome string) {
	SendsTotal.WithLabelValues(outcome).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
