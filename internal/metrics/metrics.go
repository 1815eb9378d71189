// Package metrics defines the Prometheus collectors for the page store and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PageWritesTotal     *prometheus.CounterVec
	PageDeletesTotal    *prometheus.CounterVec
	PageReadsTotal      *prometheus.CounterVec
	RenderCacheTotal    *prometheus.CounterVec
	SearchQueriesTotal  *prometheus.CounterVec
	RebuildsTotal       *prometheus.CounterVec
	RebuildDuration     prometheus.Histogram
	IndexedPages        *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. When reg is nil a
// private registry is used.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		PageWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagestore_page_writes_total",
				Help: "Total page saves by result (ok, conflict, invalid, error).",
			},
			[]string{"result"},
		),
		PageDeletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagestore_page_deletes_total",
				Help: "Total page deletions by result.",
			},
			[]string{"result"},
		),
		PageReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagestore_page_reads_total",
				Help: "Total page reads by integrity status.",
			},
			[]string{"integrity"},
		),
		RenderCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagestore_render_cache_total",
				Help: "Render cache lookups by outcome (hit, miss).",
			},
			[]string{"outcome"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagestore_search_queries_total",
				Help: "Total queries by kind (search, suggest) and source (index, live).",
			},
			[]string{"kind", "source"},
		),
		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagestore_index_rebuilds_total",
				Help: "Total index rebuilds by backend and result.",
			},
			[]string{"backend", "result"},
		),
		RebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagestore_index_rebuild_duration_seconds",
				Help:    "Index rebuild duration in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		IndexedPages: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pagestore_indexed_pages",
				Help: "Number of entries in the persisted index.",
			},
			[]string{"backend"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PageWritesTotal,
		m.PageDeletesTotal,
		m.PageReadsTotal,
		m.RenderCacheTotal,
		m.SearchQueriesTotal,
		m.RebuildsTotal,
		m.RebuildDuration,
		m.IndexedPages,
	)
	return m
}

// Handler returns the scrape handler for the registry m was built with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Write records a page save outcome.
func (m *Metrics) Write(result string) {
	if m != nil {
		m.PageWritesTotal.WithLabelValues(result).Inc()
	}
}

// Delete records a page deletion outcome.
func (m *Metrics) Delete(result string) {
	if m != nil {
		m.PageDeletesTotal.WithLabelValues(result).Inc()
	}
}

// Read records a page read with its integrity status.
func (m *Metrics) Read(integrity string) {
	if m != nil {
		m.PageReadsTotal.WithLabelValues(integrity).Inc()
	}
}

// Cache records a render cache lookup.
func (m *Metrics) Cache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.RenderCacheTotal.WithLabelValues(outcome).Inc()
}

// Query records a search or suggest request and where it was answered from.
func (m *Metrics) Query(kind, source string) {
	if m != nil {
		m.SearchQueriesTotal.WithLabelValues(kind, source).Inc()
	}
}

// Rebuild records a finished rebuild.
func (m *Metrics) Rebuild(backend string, seconds float64, pages int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.IndexedPages.WithLabelValues(backend).Set(float64(pages))
	}
	m.RebuildsTotal.WithLabelValues(backend, result).Inc()
	m.RebuildDuration.Observe(seconds)
}
