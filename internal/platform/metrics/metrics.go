// Package metrics exposes pipeline and status-API metrics in the Prometheus
// format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Load outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
)

// Metrics holds every collector. Each instance registers on its own
// registerer so tests can use a fresh prometheus.Registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	loadsTotal     *prometheus.CounterVec
	loadDuration   *prometheus.HistogramVec
	recordsLoaded  *prometheus.GaugeVec
	recordsDropped *prometheus.CounterVec
	stageFlags     *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		loadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfold_loads_total",
				Help: "Total number of source loads by outcome",
			},
			[]string{"source", "outcome"},
		),
		loadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartfold_load_duration_seconds",
				Help:    "Duration of a source load transaction in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),
		recordsLoaded: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chartfold_records_loaded",
				Help: "Rows held for a source after its last committed load",
			},
			[]string{"source", "table"},
		),
		recordsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfold_records_dropped_total",
				Help: "Raw records dropped by mapping for missing required fields",
			},
			[]string{"source", "table"},
		),
		stageFlags: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfold_stage_flags_total",
				Help: "Stage-count anomalies raised by the verifier",
			},
			[]string{"table", "flag"},
		),
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfold_http_requests_total",
				Help: "Total number of status API requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartfold_http_request_duration_seconds",
				Help:    "Status API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}
}

// ObserveLoad records one finished load.
func (m *Metrics) ObserveLoad(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(source, outcome).Inc()
	if outcome == OutcomeCommitted {
		m.loadDuration.WithLabelValues(source).Observe(d.Seconds())
	}
}

// SetLoaded sets the row count a source now holds in table.
func (m *Metrics) SetLoaded(source, table string, n int) {
	if m == nil {
		return
	}
	m.recordsLoaded.WithLabelValues(source, table).Set(float64(n))
}

// AddDropped counts records dropped while mapping.
func (m *Metrics) AddDropped(source, table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsDropped.WithLabelValues(source, table).Add(float64(n))
}

// IncFlag counts one verifier flag.
func (m *Metrics) IncFlag(table, flag string) {
	if m == nil {
		return
	}
	m.stageFlags.WithLabelValues(table, flag).Inc()
}

// Handler returns the Prometheus exposition handler for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency. Paths are the route
// templates (/api/v1/loads/:id/stages) so ids don't explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			m.httpRequestsTotal.WithLabelValues(c.Request().Method, path, status).Inc()
			m.httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
