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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ajopool_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ajopool_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	remindersComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ajopool_reminders_computed_total",
			Help: "Pending reminders emitted by the scheduler",
		},
	)

	remindersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ajopool_reminders_dispatched_total",
			Help: "Reminder dispatch attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	dispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ajopool_dispatch_latency_seconds",
			Help:    "Channel driver dispatch latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	remindersRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ajopool_reminders_retried_total",
			Help: "Retry sweeper re-dispatches by outcome",
		},
		[]string{"status"},
	)

	invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ajopool_engine_invocations_total",
			Help: "Engine invocations by result",
		},
		[]string{"result"},
	)

	invocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ajopool_engine_invocation_duration_seconds",
			Help:    "End-to-end engine invocation duration",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRemindersComputed counts scheduler output for one invocation.
func RecordRemindersComputed(n int) {
	remindersComputed.Add(float64(n))
}

// RecordReminderDispatched records one first-attempt dispatch outcome.
func RecordReminderDispatched(channel, status string) {
	remindersDispatched.WithLabelValues(channel, status).Inc()
}

// RecordDispatchLatency records one channel driver round trip.
func RecordDispatchLatency(channel string, latency time.Duration) {
	dispatchLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordReminderRetried records one sweeper re-dispatch outcome.
func RecordReminderRetried(status string) {
	remindersRetried.WithLabelValues(status).Inc()
}

// RecordInvocation records one engine run.
func RecordInvocation(result string, duration time.Duration) {
	invocations.WithLabelValues(result).Inc()
	invocationDuration.Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
