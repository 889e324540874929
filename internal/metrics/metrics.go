// Package metrics provides Prometheus instrumentation for the league engine.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsTotal counts submission attempts by outcome
	// (accepted, replaced, invalid, not_active, duplicate, price_unavailable, error).
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_submissions_total",
		Help: "Basket submissions by outcome",
	}, []string{"result"})

	// SubmissionsRateLimited counts submissions rejected by the per-participant limiter.
	SubmissionsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_submissions_rate_limited_total",
		Help: "Submissions rejected by the rate limiter",
	})

	// RankLatency tracks leaderboard computation time, including the price fetch.
	RankLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "league_rank_latency_seconds",
		Help:    "Leaderboard computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RankedParticipants tracks the size of the most recently computed leaderboard.
	RankedParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "league_ranked_participants",
		Help: "Rows in the most recently computed leaderboard",
	})

	// PriceFetches counts price provider calls by outcome (ok, error, timeout, open).
	PriceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_price_fetches_total",
		Help: "Price provider calls by outcome",
	}, []string{"outcome"})

	// PriceFetchLatency tracks price provider latency.
	PriceFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "league_price_fetch_latency_seconds",
		Help:    "Price provider latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// PriceBreakerState is 0 closed, 1 half-open, 2 open.
	PriceBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "league_price_breaker_state",
		Help: "Price provider circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	// CurrentPeriod tracks the number of the period containing now.
	CurrentPeriod = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "league_current_period",
		Help: "Number of the current period",
	})

	// ArchiveExports counts leaderboard exports by result.
	ArchiveExports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_archive_exports_total",
		Help: "Final standings exports by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "league_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "league_http_request_duration_seconds",
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

		// Label by route pattern; participant and period IDs would explode cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
