package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	UpdatesReceived *prometheus.CounterVec
	Dispatched      *prometheus.CounterVec
	InFlight        prometheus.Gauge
	RenderDuration  prometheus.Histogram
	PollErrors      prometheus.Counter
	SendErrors      *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UpdatesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qrbot",
				Name:      "updates_received_total",
				Help:      "Updates received from the platform, by source",
			},
			[]string{"source"},
		),
		Dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qrbot",
				Name:      "updates_dispatched_total",
				Help:      "Updates dispatched, by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qrbot",
			Name:      "handlers_in_flight",
			Help:      "Handler invocations currently running",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qrbot",
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering QR codes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qrbot",
			Name:      "poll_errors_total",
			Help:      "Failed getUpdates calls",
		}),
		SendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qrbot",
				Name:      "send_errors_total",
				Help:      "Failed outbound sends, by kind",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.UpdatesReceived,
		m.Dispatched,
		m.InFlight,
		m.RenderDuration,
		m.PollErrors,
		m.SendErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
