// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                *prometheus.CounterVec
	taskDurationSeconds       prometheus.Histogram
	fetchRequestsTotal        *prometheus.CounterVec
	fetchDurationSeconds      prometheus.Histogram
	retriesScheduledTotal     prometheus.Counter
	activeWorkers             prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metascrape_tasks_total",
				Help: "Total number of task executions, labeled by final status.",
			},
			[]string{"status"},
		)

		taskDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metascrape_task_duration_seconds",
				Help:    "Histogram of full task execution durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 240},
			},
		)

		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metascrape_fetch_requests_total",
				Help: "Total number of fetch attempts, labeled by status code.",
			},
			[]string{"code"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metascrape_fetch_duration_seconds",
				Help:    "Histogram of HTTP fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		retriesScheduledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "metascrape_retries_scheduled_total",
				Help: "Total number of transient-failure retries scheduled.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "metascrape_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
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

// ObserveTask records one finished task execution.
func ObserveTask(status string, duration time.Duration) {
	tasksTotal.WithLabelValues(status).Inc()
	taskDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch records one fetch attempt. Use code zero for transport failures.
func ObserveFetch(code int, duration time.Duration) {
	fetchRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRetryScheduled increments the scheduled-retry counter.
func ObserveRetryScheduled() {
	retriesScheduledTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}
