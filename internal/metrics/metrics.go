package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "s3console"

// Metrics holds all application metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	s3OperationsTotal    *prometheus.CounterVec
	s3OperationDuration  *prometheus.HistogramVec
	s3OperationErrors    *prometheus.CounterVec
	cipherOperations     *prometheus.CounterVec
	cipherErrors         *prometheus.CounterVec
	presignedURLs        *prometheus.CounterVec
	prefixDeletedObjects prometheus.Counter
	prefixDeleteBatches  *prometheus.CounterVec
	accountEvents        *prometheus.CounterVec
	rateLimited          *prometheus.CounterVec
	activeConnections    prometheus.Gauge
	goroutines           prometheus.Gauge
	memoryAllocBytes     prometheus.Gauge
}

// NewMetrics registers metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry registers metrics with a dedicated registry.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		s3OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "s3_operations_total",
				Help:      "Total number of object store operations",
			},
			[]string{"operation"},
		),
		s3OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "s3_operation_duration_seconds",
				Help:      "Object store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		s3OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "s3_operation_errors_total",
				Help:      "Total number of object store operation errors",
			},
			[]string{"operation", "error_type"},
		),
		cipherOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cipher_operations_total",
				Help:      "Total number of credential encrypt/decrypt operations",
			},
			[]string{"operation"},
		),
		cipherErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cipher_errors_total",
				Help:      "Total number of credential encrypt/decrypt failures",
			},
			[]string{"operation"},
		),
		presignedURLs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presigned_urls_issued_total",
				Help:      "Total number of pre-signed URLs issued",
			},
			[]string{"method"},
		),
		prefixDeletedObjects: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prefix_delete_objects_total",
				Help:      "Total number of objects removed by prefix deletes",
			},
		),
		prefixDeleteBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prefix_delete_batches_total",
				Help:      "Total number of delete batches issued by prefix deletes",
			},
			[]string{"result"},
		),
		accountEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_events_total",
				Help:      "Total number of account lifecycle events",
			},
			[]string{"event"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of in-flight HTTP requests",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_total",
				Help:      "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_alloc_bytes",
				Help:      "Number of bytes allocated and not yet freed",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request. route is the matched route template.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordS3Operation records a completed object store call.
func (m *Metrics) RecordS3Operation(operation string, duration time.Duration) {
	m.s3OperationsTotal.WithLabelValues(operation).Inc()
	m.s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordS3Error records a failed object store call.
func (m *Metrics) RecordS3Error(operation, errorType string) {
	m.s3OperationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordCipherOperation records an encrypt or decrypt call.
func (m *Metrics) RecordCipherOperation(operation string, err error) {
	m.cipherOperations.WithLabelValues(operation).Inc()
	if err != nil {
		m.cipherErrors.WithLabelValues(operation).Inc()
	}
}

// RecordPresignedURLs records n issued URLs for an HTTP method (PUT or GET).
func (m *Metrics) RecordPresignedURLs(method string, n int) {
	m.presignedURLs.WithLabelValues(method).Add(float64(n))
}

// RecordPrefixDeleteBatch records one delete batch and the objects it removed.
func (m *Metrics) RecordPrefixDeleteBatch(deleted int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.prefixDeleteBatches.WithLabelValues(result).Inc()
	m.prefixDeletedObjects.Add(float64(deleted))
}

// RecordAccountEvent records an account lifecycle event such as "signup" or "login_failed".
func (m *Metrics) RecordAccountEvent(event string) {
	m.accountEvents.WithLabelValues(event).Inc()
}

// RecordRateLimited records a request rejected by the named limiter.
func (m *Metrics) RecordRateLimited(limiter string) {
	m.rateLimited.WithLabelValues(limiter).Inc()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
}

// IncrementActiveConnections increments the in-flight request gauge.
func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Inc()
}

// DecrementActiveConnections decrements the in-flight request gauge.
func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Dec()
}

// StartSystemMetricsCollector updates system metrics every interval until stop is closed.
func (m *Metrics) StartSystemMetricsCollector(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-stop:
				return
			}
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
