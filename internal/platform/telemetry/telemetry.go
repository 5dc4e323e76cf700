// Package telemetry exposes Prometheus metrics for the claims service: HTTP
// server metrics recorded by an Echo middleware and claim-pipeline counters
// recorded by the domain services. Every recorder method is safe to call on a
// nil *Metrics, which records nothing.
package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "claims-server"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "unknown"
	}
}

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics owns a private registry so tests never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	httpActive        prometheus.Gauge
	submissions       *prometheus.CounterVec
	encodingGaps      *prometheus.CounterVec
	transportDuration *prometheus.HistogramVec
	transportErrors   *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	batchClaims       *prometheus.CounterVec
	batches           *prometheus.CounterVec
	remittances       *prometheus.CounterVec
}

func NewMetrics(cfg Config) *Metrics {
	cfg.applyDefaults()
	constLabels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_server_requests_total",
			Help:        "HTTP requests by method, route pattern and status code.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_server_request_duration_seconds",
			Help:        "HTTP request latency by method and route pattern.",
			Buckets:     defaultDurationBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_server_active_requests",
			Help:        "HTTP requests currently being served.",
			ConstLabels: constLabels,
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "claims_submissions_total",
			Help:        "Claim submissions persisted, by clearinghouse type and reported status.",
			ConstLabels: constLabels,
		}, []string{"clearinghouse_type", "status"}),
		encodingGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "claims_x12_gaps_total",
			Help:        "Submissions sent without an X12 payload because encoding failed.",
			ConstLabels: constLabels,
		}, []string{"clearinghouse_type"}),
		transportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "claims_transport_duration_seconds",
			Help:        "Clearinghouse call latency by operation.",
			Buckets:     defaultDurationBuckets,
			ConstLabels: constLabels,
		}, []string{"operation"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "claims_transport_errors_total",
			Help:        "Failed clearinghouse calls by operation.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "claims_status_transitions_total",
			Help:        "Claim status transitions written to the history log.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		batchClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "claims_batch_claims_total",
			Help:        "Claims processed inside batches by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "claims_batches_total",
			Help:        "Completed batches by aggregate status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		remittances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "claims_remittances_total",
			Help:        "Processed remittance advices by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.httpActive,
		m.submissions, m.encodingGaps, m.transportDuration, m.transportErrors,
		m.statusTransitions, m.batchClaims, m.batches, m.remittances,
	)
	return m
}

// Registry is exposed for tests and for registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request count and latency by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.httpActive.Inc()
			start := time.Now()

			err := next(c)

			m.httpActive.Dec()
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) SubmissionRecorded(clearinghouseType, status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(label(clearinghouseType), status).Inc()
}

func (m *Metrics) EncodingGap(clearinghouseType string) {
	if m == nil {
		return
	}
	m.encodingGaps.WithLabelValues(label(clearinghouseType)).Inc()
}

// ObserveTransport records one clearinghouse call.
func (m *Metrics) ObserveTransport(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.transportDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.transportErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) StatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(label(from), to).Inc()
}

func (m *Metrics) BatchCompleted(status string, submitted, failed int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
	m.batchClaims.WithLabelValues("submitted").Add(float64(submitted))
	m.batchClaims.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) RemittanceProcessed(outcome string) {
	if m == nil {
		return
	}
	m.remittances.WithLabelValues(outcome).Inc()
}

func label(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
