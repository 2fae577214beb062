// Package metrics exposes the server's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devsync"

// Gauges are sampled on every scrape. Nil funcs are skipped.
type Gauges struct {
	Connections func() int
	Rooms       func() int
	Documents   func() int
}

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	registry *prometheus.Registry
	relayed  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	updates  prometheus.Counter
}

func New(gauges Gauges) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_events_total",
			Help:      "Room events fanned out to other connections, by event.",
		}, []string{"event"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_events_total",
			Help:      "Client events refused, by reason.",
		}, []string{"reason"}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_updates_total",
			Help:      "Document updates merged.",
		}),
	}
	m.registry.MustRegister(m.relayed, m.rejected, m.updates)

	gauge := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) }))
	}
	gauge("connections", "Live realtime connections.", gauges.Connections)
	gauge("present_rooms", "Rooms with at least one present identity.", gauges.Rooms)
	gauge("documents", "Room documents held in memory.", gauges.Documents)
	return m
}

func (m *Metrics) Relayed(event string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(event).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) DocumentUpdate() {
	if m == nil {
		return
	}
	m.updates.Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
