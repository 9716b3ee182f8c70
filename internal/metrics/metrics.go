// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calwidget"

// Result label values for feed fetches.
const (
	ResultOK     = "ok"
	ResultCached = "cached"
	ResultError  = "error"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	FeedFetches   *prometheus.CounterVec
	FeedEvents    *prometheus.CounterVec
	FeedDropped   *prometheus.CounterVec
	LayoutRequest *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, so tests and multiple
// servers in one process do not collide on the default registerer.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_total",
			Help:      "Feed fetches by calendar and result (ok, cached, error).",
		}, []string{"source", "result"}),
		FeedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Events parsed from feeds.",
		}, []string{"source"}),
		FeedDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_events_total",
			Help:      "VEVENT blocks dropped for a missing UID or start.",
		}, []string{"source"}),
		LayoutRequest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_requests_total",
			Help:      "Layout computations by view (month, week).",
		}, []string{"view"}),
	}
	m.registry.MustRegister(
		m.FeedFetches,
		m.FeedEvents,
		m.FeedDropped,
		m.LayoutRequest,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveParse records the outcome of parsing one feed.
func (m *Metrics) ObserveParse(source string, events, dropped int) {
	m.FeedEvents.WithLabelValues(source).Add(float64(events))
	m.FeedDropped.WithLabelValues(source).Add(float64(dropped))
}
