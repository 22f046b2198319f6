// Package metrics provides Prometheus metrics for the shunt server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shunt_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shunt_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Sync metrics
	syncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shunt_sync_requests_total",
			Help: "Tree requests by outcome (hit, refreshed, stale, error)",
		},
		[]string{"outcome"},
	)

	syncRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shunt_sync_refresh_duration_seconds",
			Help:    "Time to pull and apply all delta pages for one refresh",
			Buckets: prometheus.DefBuckets,
		},
	)

	deltaPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shunt_delta_pages_total",
			Help: "Total delta pages fetched",
		},
	)

	deltaChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shunt_delta_changes_total",
			Help: "Total change records applied",
		},
		[]string{"kind"},
	)

	deltaResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shunt_delta_resets_total",
			Help: "Total reset pages received",
		},
	)

	deltaCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shunt_delta_call_duration_seconds",
			Help:    "Remote delta call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	treeSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shunt_tree_size",
			Help: "Number of nodes in the last synced tree",
		},
		[]string{"app"},
	)

	// Record store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shunt_store_operation_duration_seconds",
			Help:    "Record store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shunt_store_operations_total",
			Help: "Total record store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shunt_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shunt_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	sseDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shunt_sse_deliveries_total",
			Help: "SSE event deliveries to subscribers, by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSyncOutcome counts one tree request by outcome.
func RecordSyncOutcome(outcome string) {
	syncRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordRefresh records the duration of a completed refresh.
func RecordRefresh(duration time.Duration) {
	syncRefreshDuration.Observe(duration.Seconds())
}

// RecordDeltaPage records one fetched page.
func RecordDeltaPage(changes, removed int, reset bool) {
	deltaPagesTotal.Inc()
	deltaChangesTotal.WithLabelValues("upsert").Add(float64(changes - removed))
	deltaChangesTotal.WithLabelValues("remove").Add(float64(removed))
	if reset {
		deltaResetsTotal.Inc()
	}
}

// RecordDeltaCall records a remote delta call.
func RecordDeltaCall(duration time.Duration, success bool) {
	deltaCallDuration.WithLabelValues(status(success)).Observe(duration.Seconds())
}

// SetTreeSize sets the node count of an app tree.
func SetTreeSize(app string, size int) {
	treeSize.WithLabelValues(app).Set(float64(size))
}

// RecordStoreOperation records a record store operation.
func RecordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records one published event and its fan-out.
func RecordSSEEvent(eventType string, delivered, dropped int) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
	sseDeliveriesTotal.WithLabelValues("delivered").Add(float64(delivered))
	sseDeliveriesTotal.WithLabelValues("dropped").Add(float64(dropped))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their mux pattern so per-app paths do not explode the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
