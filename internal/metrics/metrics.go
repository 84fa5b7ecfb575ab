// Package metrics exposes Prometheus instrumentation for the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and the collectors the signin flow updates.
type Metrics struct {
	registry *prometheus.Registry

	// SigninAttempts counts signin outcomes by terminal branch.
	SigninAttempts *prometheus.CounterVec
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signin_attempts_total",
		Help: "Signin attempts by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(attempts)

	return &Metrics{registry: registry, SigninAttempts: attempts}
}

// Observe increments the counter for the given outcome label.
func (m *Metrics) Observe(outcome string) {
	if m == nil {
		return
	}
	m.SigninAttempts.WithLabelValues(outcome).Inc()
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
