// Package metrics provides Prometheus instrumentation for the stock engine.
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
	// TicksTotal counts completed engine ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stonks_ticks_total",
		Help: "Total number of completed engine ticks",
	})

	// TickDuration tracks how long one full tick takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stonks_tick_duration_seconds",
		Help:    "Duration of one engine tick in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// RefreshFailures counts quotation refreshes that were skipped.
	RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stonks_refresh_failures_total",
		Help: "Quotation refreshes skipped due to errors",
	})

	// FeedTimeouts counts external feed fetches that exceeded the deadline.
	FeedTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stonks_feed_timeouts_total",
		Help: "External feed fetches that timed out",
	})

	// StopTriggers counts orders auto-closed by a stop bound crossing.
	StopTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stonks_stop_triggers_total",
		Help: "Orders auto-closed by a stop bound",
	})

	// SettlementsTotal counts settlements emitted to the ledger sink.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stonks_settlements_total",
		Help: "Settlement events emitted",
	})

	// LiveOrders tracks the size of the live order set.
	LiveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stonks_live_orders",
		Help: "Number of currently live orders",
	})

	// RegisteredQuotations tracks the registry size.
	RegisteredQuotations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stonks_registered_quotations",
		Help: "Number of registered quotations",
	})

	// WebSocketClients tracks connected display clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stonks_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stonks_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stonks_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
