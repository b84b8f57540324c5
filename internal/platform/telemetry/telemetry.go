// Package telemetry exposes Prometheus collectors for the HTTP surface, the
// document store, live subscriptions and bulk import, plus OpenTelemetry
// request spans.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const namespace = "gestioncitas"

var tracer = otel.Tracer("gestioncitas.internal.platform.telemetry")

// Metrics holds every collector the server registers.
type Metrics struct {
	gatherer prometheus.Gatherer

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	storeWrites     *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
	snapshots       *prometheus.CounterVec
	workspaces      prometheus.Gauge
	importRecords   *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry so
// repeated construction in tests never collides.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Requests currently being served",
		}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Document writes by operation, collection and outcome",
		}, []string{"op", "collection", "status"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_duration_seconds",
			Help:      "Document write latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "collection"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "snapshots_applied_total",
			Help:      "Collection snapshots applied to workspace mirrors",
		}, []string{"collection"}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "active",
			Help:      "Signed-in workspaces",
		}),
		importRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "import_records_total",
			Help:      "Imported records by collection and outcome",
		}, []string{"collection", "status"}),
	}
	reg.MustRegister(
		m.requestDuration, m.activeRequests,
		m.storeWrites, m.storeLatency,
		m.snapshots, m.workspaces, m.importRecords,
	)
	return m
}

// ObserveWrite satisfies store.WriteObserver.
func (m *Metrics) ObserveWrite(op, collection, status string, seconds float64) {
	if m == nil {
		return
	}
	m.storeWrites.WithLabelValues(op, collection, status).Inc()
	m.storeLatency.WithLabelValues(op, collection).Observe(seconds)
}

func (m *Metrics) ObserveSnapshot(collection string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(collection).Inc()
}

func (m *Metrics) WorkspaceOpened() {
	if m == nil {
		return
	}
	m.workspaces.Inc()
}

func (m *Metrics) WorkspaceClosed() {
	if m == nil {
		return
	}
	m.workspaces.Dec()
}

func (m *Metrics) ObserveImportRecord(collection string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.importRecords.WithLabelValues(collection, status).Inc()
}

// Middleware records request latency and wraps each request in a span.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			ctx, span := tracer.Start(req.Context(), "HTTP "+req.Method+" "+route)
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			if m != nil {
				m.activeRequests.Inc()
				defer m.activeRequests.Dec()
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			if m != nil {
				m.requestDuration.WithLabelValues(req.Method, route, strconv.Itoa(status)).
					Observe(time.Since(start).Seconds())
			}
			return nil
		}
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
