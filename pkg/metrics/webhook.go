package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts billing webhook processing outcomes by event type.
type WebhookMetrics struct {
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	replayed  *prometheus.CounterVec
}

// NewWebhookMetrics registers webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_processed_total",
		Help: "Webhook events that produced a handled result.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_failed_total",
		Help: "Webhook events whose handler returned an error.",
	}, []string{"event_type"})
	replayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_replayed_total",
		Help: "Webhook deliveries answered from the idempotency ledger.",
	}, []string{"event_type"})
	reg.MustRegister(processed, failed, replayed)
	return &WebhookMetrics{processed: processed, failed: failed, replayed: replayed}
}

// IncProcessed increments the processed counter for the event type.
func (m *WebhookMetrics) IncProcessed(eventType string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncFailed increments the failure counter for the event type.
func (m *WebhookMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncReplayed increments the replay counter for the event type.
func (m *WebhookMetrics) IncReplayed(eventType string) {
	if m == nil || m.replayed == nil {
		return
	}
	m.replayed.WithLabelValues(normalizeLabel(eventType)).Inc()
}
