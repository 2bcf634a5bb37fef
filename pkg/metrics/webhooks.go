package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics records webhook delivery outcomes.
type WebhookMetrics struct {
	processed *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(processed)
	return &WebhookMetrics{processed: processed}
}

// IncProcessed increments the delivery counter for the event type/outcome pair.
func (w *WebhookMetrics) IncProcessed(eventType, outcome string) {
	if w == nil || w.processed == nil {
		return
	}
	w.processed.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
