package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector holds all Prometheus metrics for wasmfaas.
// Uses a custom registry, no global state. It implements executor.Observer.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Invocation metrics.
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	OutputBytes        prometheus.Histogram
	ActiveInvocations  prometheus.Gauge

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry, along with the Go runtime and process
// collectors.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		InvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wasmfaas",
			Name:      "invocations_total",
			Help:      "Total function invocations by runtime and result.",
		}, []string{"runtime", "result"}),

		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wasmfaas",
			Name:      "invocation_duration_seconds",
			Help:      "Invocation duration in seconds, from resolution to extracted output.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"runtime"}),

		OutputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wasmfaas",
			Name:      "output_bytes",
			Help:      "Size of successful invocation output in bytes.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),

		ActiveInvocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wasmfaas",
			Name:      "active_invocations",
			Help:      "Number of invocations currently running.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wasmfaas",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wasmfaas",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.InvocationsTotal,
		m.InvocationDuration,
		m.OutputBytes,
		m.ActiveInvocations,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// InvocationStarted implements executor.Observer.
func (m *MetricsCollector) InvocationStarted(string) {
	m.ActiveInvocations.Inc()
}

// InvocationFinished implements executor.Observer.
func (m *MetricsCollector) InvocationFinished(runtime, outcome string, d time.Duration, outputBytes int) {
	m.ActiveInvocations.Dec()
	m.InvocationsTotal.WithLabelValues(runtime, outcome).Inc()
	m.InvocationDuration.WithLabelValues(runtime).Observe(d.Seconds())
	if outcome == "ok" {
		m.OutputBytes.Observe(float64(outputBytes))
	}
}

// ObserveHTTP records one served request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (m *MetricsCollector) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
