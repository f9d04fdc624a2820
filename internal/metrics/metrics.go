// Package metrics holds the Prometheus collectors for downloads, parsing and
// event queries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "icscal"

// Metrics is a set of collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	downloads        *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	parseFailures    *prometheus.CounterVec
	events           *prometheus.CounterVec
	skipped          *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.downloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Calendar downloads by calendar and result (ok, unchanged, cached, error)",
	}, []string{"calendar", "result"})
	m.downloadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Time spent downloading a calendar",
		Buckets:   prometheus.DefBuckets,
	}, []string{"calendar"})
	m.parseFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_failures_total",
		Help:      "Calendar documents that could not be parsed, by engine",
	}, []string{"engine"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_returned_total",
		Help:      "Events returned by query kind (list, current)",
	}, []string{"calendar", "kind"})
	m.skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "occurrences_skipped_total",
		Help:      "Malformed occurrences dropped from results",
	}, []string{"calendar"})

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.downloads, m.downloadDuration, m.parseFailures, m.events, m.skipped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDownload(calendar, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(calendar, result).Inc()
	m.downloadDuration.WithLabelValues(calendar).Observe(took.Seconds())
}

func (m *Metrics) ParseFailed(engine string) {
	if m == nil {
		return
	}
	m.parseFailures.WithLabelValues(engine).Inc()
}

func (m *Metrics) EventsReturned(calendar, kind string, n int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(calendar, kind).Add(float64(n))
}

func (m *Metrics) OccurrenceSkipped(calendar string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(calendar).Inc()
}
