// Package metrics registers and exposes the service's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts Trigger Interface HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// NotificationsTotal counts notifications received by table.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_notifications_total",
			Help: "Total number of LISTEN/NOTIFY notifications received by table",
		},
		[]string{"table"},
	)
	// OrchestratorDuration records Sync() call durations by table.
	OrchestratorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_orchestrator_duration_seconds",
			Help:    "Duration of Sync Orchestrator invocations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"table"},
	)
	// OrchestratorFailuresTotal counts failed Sync() calls by table.
	OrchestratorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_orchestrator_failures_total",
			Help: "Total number of Sync Orchestrator invocations that returned an error",
		},
		[]string{"table"},
	)
	// DimensionPlaceholderTotal counts placeholder dimension rows created for dangling FKs.
	DimensionPlaceholderTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_dimension_placeholder_total",
			Help: "Total number of placeholder dimension rows created for missing source rows",
		},
		[]string{"dimension"},
	)
	// FactsSkippedTotal counts fact rows skipped due to an unresolved dimension surrogate.
	FactsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_facts_skipped_total",
			Help: "Total number of hecho_ventas rows skipped due to a null dimension surrogate",
		},
		[]string{"reason"},
	)
	// HeartbeatTimestamp is a gauge of the dispatcher's last heartbeat unix timestamp.
	HeartbeatTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_heartbeat_timestamp_seconds",
			Help: "Unix timestamp of the dispatcher's last heartbeat",
		},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(OrchestratorDuration)
	prometheus.MustRegister(OrchestratorFailuresTotal)
	prometheus.MustRegister(DimensionPlaceholderTotal)
	prometheus.MustRegister(FactsSkippedTotal)
	prometheus.MustRegister(HeartbeatTimestamp)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordNotification increments the notification counter for a table.
func RecordNotification(table string) {
	NotificationsTotal.WithLabelValues(table).Inc()
}

// ObserveOrchestratorRun records the duration and outcome of a Sync() call.
func ObserveOrchestratorRun(table string, dur time.Duration, err error) {
	OrchestratorDuration.WithLabelValues(table).Observe(dur.Seconds())
	if err != nil {
		OrchestratorFailuresTotal.WithLabelValues(table).Inc()
	}
}

// RecordPlaceholder increments the placeholder counter for a dimension.
func RecordPlaceholder(dimension string) {
	DimensionPlaceholderTotal.WithLabelValues(dimension).Inc()
}

// RecordFactSkipped increments the skipped-fact counter for a reason.
func RecordFactSkipped(reason string) {
	FactsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordHeartbeat sets the heartbeat gauge to the given unix timestamp.
func RecordHeartbeat(unixSeconds int64) {
	HeartbeatTimestamp.Set(float64(unixSeconds))
}
