// Package metrics exposes Prometheus collectors for batch execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coastalcabana/gptbatch/pkg/models"
)

// Metrics holds the executor collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	retries  prometheus.Counter
	cost     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gptbatch",
				Name:      "requests_total",
				Help:      "Chat completion requests by final status and source.",
			},
			[]string{"status", "source"},
		),
		retries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gptbatch",
				Name:      "retries_total",
				Help:      "Attempts beyond the first, across all requests.",
			},
		),
		cost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gptbatch",
				Name:      "cost_usd_total",
				Help:      "Spend in USD by model.",
			},
			[]string{"model"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gptbatch",
				Name:      "request_duration_seconds",
				Help:      "Wall time per request, retries and backoff included.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
	}
}

// ObserveResult records the outcome of one request.
func (m *Metrics) ObserveResult(r models.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := r.Status.String()
	m.requests.WithLabelValues(status, source(r)).Inc()
	if r.Attempts > 1 {
		m.retries.Add(float64(r.Attempts - 1))
	}
	if r.Cost > 0 {
		m.cost.WithLabelValues(r.Model).Add(r.Cost)
	}
	m.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func source(r models.Result) string {
	switch {
	case r.Cached:
		return "cache"
	case r.Repaired:
		return "repair"
	default:
		return "api"
	}
}
