package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// metrics are registered on a per-server registry so tests can build many
// servers in one process.
type metrics struct {
	registry       *prometheus.Registry
	questions      *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	activeStreams  prometheus.Gauge
	rejected       prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamchat",
			Name:      "questions_total",
			Help:      "Questions received, by response mode.",
		}, []string{"mode"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamchat",
			Name:      "upstream_errors_total",
			Help:      "Failed upstream requests, by reason.",
		}, []string{"reason"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamchat",
			Name:      "active_streams",
			Help:      "SSE streams currently being relayed.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamchat",
			Name:      "rate_limited_total",
			Help:      "Questions rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.questions,
		m.upstreamErrors,
		m.activeStreams,
		m.rejected,
		collectors.NewGoCollector(),
	)
	return m
}
