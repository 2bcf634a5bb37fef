package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GenerationMetrics records outcomes for generation requests.
type GenerationMetrics struct {
	requests  *prometheus.CounterVec
	blocked   *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewGenerationMetrics registers the generation metrics on the provided registerer.
func NewGenerationMetrics(reg prometheus.Registerer) *GenerationMetrics {
	if reg == nil {
		return &GenerationMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_requests_total",
		Help: "Generation requests by action and outcome.",
	}, []string{"action", "outcome"})
	blocked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_rate_limited_total",
		Help: "Generation requests blocked by the rate limiter.",
	}, []string{"action"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_duration_seconds",
		Help:    "Duration of provider calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
	reg.MustRegister(requests, blocked, durations)
	return &GenerationMetrics{
		requests:  requests,
		blocked:   blocked,
		durations: durations,
	}
}

// IncRequest increments the request counter for the action/outcome pair.
func (g *GenerationMetrics) IncRequest(action, outcome string) {
	if g == nil || g.requests == nil {
		return
	}
	g.requests.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

// IncRateLimited increments the rate-limited counter for the action.
func (g *GenerationMetrics) IncRateLimited(action string) {
	if g == nil || g.blocked == nil {
		return
	}
	g.blocked.WithLabelValues(normalizeLabel(action)).Inc()
}

// ObserveDuration records the provider call duration for the action.
func (g *GenerationMetrics) ObserveDuration(action string, duration time.Duration) {
	if g == nil || g.durations == nil {
		return
	}
	g.durations.WithLabelValues(normalizeLabel(action)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
