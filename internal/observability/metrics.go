package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "luamq",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatch activations that sent or attempted a reply, by status.",
		},
		[]string{"status"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "luamq",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Receive-to-reply time of one activation in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	dispatchEmpty = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "luamq",
			Subsystem: "dispatch",
			Name:      "empty_total",
			Help:      "Activations that ended without a message.",
		},
	)
	transportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "luamq",
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Transport receive and send failures, by errno.",
		},
		[]string{"errno"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "luamq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "luamq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			dispatchTotal, dispatchDuration, dispatchEmpty,
			transportErrors, httpRequests, httpDuration,
		)
	})
}

func RecordDispatch(status string, duration time.Duration) {
	RegisterMetrics()
	dispatchTotal.WithLabelValues(status).Inc()
	dispatchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordEmptyDispatch() {
	RegisterMetrics()
	dispatchEmpty.Inc()
}

func RecordTransportError(errno int) {
	RegisterMetrics()
	transportErrors.WithLabelValues(strconv.Itoa(errno)).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
