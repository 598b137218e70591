// Package metrics exposes Prometheus collectors for ingestion runs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sourceRunsTotal            *prometheus.CounterVec
	reconciledTotal            *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	sweptTotal                 prometheus.Counter
	runDurationSeconds         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidtracker_source_runs_total",
				Help: "Sources processed by ingestion runs, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		reconciledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidtracker_reconciled_candidates_total",
				Help: "Candidates handled by the reconciler, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidtracker_run_alerts_total",
				Help: "Health alerts raised at the end of runs, labeled by severity.",
			},
			[]string{"severity"},
		)

		sweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bidtracker_swept_opportunities_total",
				Help: "Opportunities marked disappeared by the lifecycle sweep.",
			},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bidtracker_run_duration_seconds",
				Help:    "Wall time of complete ingestion runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSource counts one processed source.
func ObserveSource(source, status string) {
	Init()
	sourceRunsTotal.WithLabelValues(source, status).Inc()
}

// ObserveReconcile adds per-outcome candidate counts for one source batch.
func ObserveReconcile(created, updated, conflicts, rejected, duplicates int) {
	Init()
	for outcome, n := range map[string]int{
		"created":   created,
		"updated":   updated,
		"conflict":  conflicts,
		"rejected":  rejected,
		"duplicate": duplicates,
	} {
		if n > 0 {
			reconciledTotal.WithLabelValues(outcome).Add(float64(n))
		}
	}
}

func ObserveAlert(severity string) {
	Init()
	alertsTotal.WithLabelValues(severity).Inc()
}

func ObserveSwept(n int64) {
	Init()
	if n > 0 {
		sweptTotal.Add(float64(n))
	}
}

func ObserveRun(d time.Duration) {
	Init()
	runDurationSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// EchoMiddleware records request counts and latencies by matched route.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			code := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					code = he.Code
				} else {
					code = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			ObserveHTTPRequest(c.Request().Method, route, code, time.Since(start))
			return err
		}
	}
}
