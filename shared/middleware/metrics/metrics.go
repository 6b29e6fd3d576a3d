// Package metrics provides Prometheus HTTP middleware and relay counters.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
			// uploads run for minutes
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// DeliveryBatches counts external upload calls by outcome (ok, failed).
	DeliveryBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picrelay_delivery_batches_total",
			Help: "Delivery batches sent to the chat service",
		},
		[]string{"outcome"},
	)

	// FilesDelivered counts files confirmed by the chat service and recorded locally.
	FilesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "picrelay_files_delivered_total",
			Help: "Files delivered and recorded",
		},
	)

	// UnconfirmedFiles counts files delivered but whose record update failed.
	UnconfirmedFiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "picrelay_files_unconfirmed_total",
			Help: "Files delivered whose local record could not be updated",
		},
	)

	// ProgressSubscribers is the number of open progress streams.
	ProgressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "picrelay_progress_subscribers",
			Help: "Open progress event streams",
		},
	)

	// FilesDeleted counts deletions by scope (a, b).
	FilesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picrelay_files_deleted_total",
			Help: "Files removed from local bookkeeping",
		},
		[]string{"scope"},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records Prometheus metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := newResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		// Use chi's route pattern if available to avoid high cardinality
		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
