package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for generation attempts.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDeclined  = "declined"
)

// Metrics groups the studio collectors on a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	generations  *prometheus.CounterVec
	creditsSpent *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_generations_total",
			Help: "Document generation attempts by type and outcome.",
		}, []string{"type", "outcome"}),
		creditsSpent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_credits_spent_total",
			Help: "Credits debited by action.",
		}, []string{"action"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studio_generation_seconds",
			Help:    "Provider call latency for document generation.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}, []string{"type"}),
	}
	m.registry.MustRegister(m.generations, m.creditsSpent, m.latency)
	return m
}

// Generation records one finished generation attempt.
func (m *Metrics) Generation(docType, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(docType, outcome).Inc()
	if took > 0 {
		m.latency.WithLabelValues(docType).Observe(took.Seconds())
	}
}

// CreditsSpent records a successful debit.
func (m *Metrics) CreditsSpent(action string, credits int) {
	if m == nil {
		return
	}
	m.creditsSpent.WithLabelValues(action).Add(float64(credits))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
