// Package metrics регистрирует метрики Prometheus для расчёта платёжных событий.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Settlement собирает счётчики и длительности обработки событий.
type Settlement struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New создаёт метрики и регистрирует их в reg. Если reg равен nil,
// используется prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Settlement {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Settlement{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_events_total",
			Help: "Processed payment events by settlement kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Time spent settling a payment event.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
	}
	reg.MustRegister(m.events, m.duration)
	return m
}

// Observe учитывает одно обработанное событие. Безопасен для nil.
func (m *Settlement) Observe(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.events.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}
