// Package metrics provides Prometheus instrumentation for the bet engine.
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
	// BetsSettled counts committed settlements, partitioned by outcome
	// and presentation mode.
	BetsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_bets_settled_total",
		Help: "Total number of bets settled",
	}, []string{"outcome", "mode"})

	// BetsRejected counts rejected settlements by error kind.
	BetsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_bets_rejected_total",
		Help: "Total number of bets rejected, by error kind",
	}, []string{"kind"})

	// SettleLatency tracks end-to-end settlement latency.
	SettleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betengine_settle_latency_seconds",
		Help:    "Settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// ConflictRetries counts optimistic-concurrency retries during
	// settlement.
	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betengine_settle_conflict_retries_total",
		Help: "Settlement retries caused by market version conflicts",
	})

	// MarketVolume tracks cumulative gross stake per market and outcome.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_market_volume_total",
		Help: "Cumulative gross bet volume",
	}, []string{"market_id", "outcome"})

	// InvariantDrift records the relative drift of the reserve product
	// from k observed at the last settlement per market.
	InvariantDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "betengine_pool_invariant_drift",
		Help: "Relative drift of yesReserve*noReserve from k",
	}, []string{"market_id"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betengine_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is low.
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
