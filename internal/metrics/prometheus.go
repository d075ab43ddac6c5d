// Package metrics exposes Prometheus instrumentation for the H3 client:
// connection lifecycle, stream counts, byte totals, and request outcomes.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientMetrics holds every Prometheus collector the H3 client registers.
type ClientMetrics struct {
	registry *prometheus.Registry

	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec

	// Connection/stream metrics
	connectionState  prometheus.Gauge
	connectAttempts  *prometheus.CounterVec
	streamsActive    prometheus.Gauge
	streamsTotal     *prometheus.CounterVec
	streamResets     prometheus.Counter

	// Transfer metrics
	uploadBytesTotal   prometheus.Counter
	downloadBytesTotal prometheus.Counter

	// Progress/keep-alive metrics
	progressEventsTotal *prometheus.CounterVec
	pingsSent           prometheus.Counter

	// Custom metrics, for callers embedding this client in a larger service.
	customMetrics map[string]prometheus.Collector
	mutex         sync.RWMutex
}

// MetricsConfig configures the namespace and exposition surface of a
// ClientMetrics instance.
type MetricsConfig struct {
	Namespace            string
	Subsystem            string
	HistogramBuckets     []float64
	ExposeGoMetrics      bool
	ExposeProcessMetrics bool
}

// DefaultMetricsConfig returns the defaults used when metrics are enabled
// without explicit overrides.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:            "h3client",
		HistogramBuckets:     prometheus.DefBuckets,
		ExposeGoMetrics:      true,
		ExposeProcessMetrics: true,
	}
}

// NewClientMetrics builds and registers every collector against a fresh
// registry.
func NewClientMetrics(config MetricsConfig) *ClientMetrics {
	if config.Namespace == "" {
		config.Namespace = "h3client"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	cm := &ClientMetrics{
		registry:      registry,
		customMetrics: make(map[string]prometheus.Collector),
	}
	cm.initializeMetrics(config)
	cm.registerMetrics()

	if config.ExposeGoMetrics {
		registry.MustRegister(prometheus.NewGoCollector())
	}
	if config.ExposeProcessMetrics {
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}

	return cm
}

func (cm *ClientMetrics) initializeMetrics(config MetricsConfig) {
	cm.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "requests_total",
			Help:      "Total number of requests submitted, by method and status class.",
		},
		[]string{"method", "status"},
	)

	cm.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "request_duration_seconds",
			Help:      "Time from submission to completed response.",
			Buckets:   config.HistogramBuckets,
		},
		[]string{"method"},
	)

	cm.requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "request_errors_total",
			Help:      "Total number of requests that failed before a response arrived, by cause.",
		},
		[]string{"cause"},
	)

	cm.connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "connection_up",
			Help:      "1 if the QUIC connection to the peer is established, 0 otherwise.",
		},
	)

	cm.connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "connect_attempts_total",
			Help:      "Total connection attempts, by result.",
		},
		[]string{"result"},
	)

	cm.streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "streams_active",
			Help:      "Number of streams currently awaiting a response.",
		},
	)

	cm.streamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "streams_total",
			Help:      "Total streams opened, by kind (header, persistent).",
		},
		[]string{"kind"},
	)

	cm.streamResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "stream_resets_total",
			Help:      "Total number of peer-initiated stream resets observed.",
		},
	)

	cm.uploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "upload_bytes_total",
			Help:      "Total request body bytes written to the transport.",
		},
	)

	cm.downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "download_bytes_total",
			Help:      "Total response body bytes read from the transport.",
		},
	)

	cm.progressEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "progress_events_total",
			Help:      "Total progress callbacks fired, by direction (upload, download).",
		},
		[]string{"direction"},
	)

	cm.pingsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "keepalive_pings_total",
			Help:      "Total keep-alive pings emitted on persistent streams.",
		},
	)
}

func (cm *ClientMetrics) registerMetrics() {
	cm.registry.MustRegister(
		cm.requestsTotal,
		cm.requestDuration,
		cm.requestErrors,
		cm.connectionState,
		cm.connectAttempts,
		cm.streamsActive,
		cm.streamsTotal,
		cm.streamResets,
		cm.uploadBytesTotal,
		cm.downloadBytesTotal,
		cm.progressEventsTotal,
		cm.pingsSent,
	)
}

// RecordRequest records the terminal outcome of a request.
func (cm *ClientMetrics) RecordRequest(method, status string) {
	cm.requestsTotal.WithLabelValues(method, status).Inc()
}

// RecordRequestDuration records wall-clock time from submission to completion.
func (cm *ClientMetrics) RecordRequestDuration(method string, duration time.Duration) {
	cm.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRequestError records a request that failed before a response arrived.
func (cm *ClientMetrics) RecordRequestError(cause string) {
	cm.requestErrors.WithLabelValues(cause).Inc()
}

// SetConnectionUp reports whether the QUIC connection is currently
// established.
func (cm *ClientMetrics) SetConnectionUp(up bool) {
	if up {
		cm.connectionState.Set(1)
	} else {
		cm.connectionState.Set(0)
	}
}

// RecordConnectAttempt records the result ("ok" or "error") of a handshake
// attempt.
func (cm *ClientMetrics) RecordConnectAttempt(result string) {
	cm.connectAttempts.WithLabelValues(result).Inc()
}

// SetStreamsActive reports the current count of in-flight streams.
func (cm *ClientMetrics) SetStreamsActive(count int) {
	cm.streamsActive.Set(float64(count))
}

// RecordStreamOpened records a newly opened stream of the given kind.
func (cm *ClientMetrics) RecordStreamOpened(kind string) {
	cm.streamsTotal.WithLabelValues(kind).Inc()
}

// RecordStreamReset records one peer-initiated stream reset.
func (cm *ClientMetrics) RecordStreamReset() {
	cm.streamResets.Inc()
}

// AddUploadBytes adds n bytes to the cumulative upload counter.
func (cm *ClientMetrics) AddUploadBytes(n int64) {
	if n > 0 {
		cm.uploadBytesTotal.Add(float64(n))
	}
}

// AddDownloadBytes adds n bytes to the cumulative download counter.
func (cm *ClientMetrics) AddDownloadBytes(n int64) {
	if n > 0 {
		cm.downloadBytesTotal.Add(float64(n))
	}
}

// RecordProgressEvent records one fired progress callback.
func (cm *ClientMetrics) RecordProgressEvent(direction string) {
	cm.progressEventsTotal.WithLabelValues(direction).Inc()
}

// RecordPingSent records one keep-alive ping emitted on a persistent stream.
func (cm *ClientMetrics) RecordPingSent() {
	cm.pingsSent.Inc()
}

// AddCustomMetric registers a caller-supplied collector under name.
func (cm *ClientMetrics) AddCustomMetric(name string, collector prometheus.Collector) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.customMetrics[name] = collector
	cm.registry.MustRegister(collector)
}

// GetRegistry returns the underlying registry, e.g. for tests that want to
// gather and assert on specific metric families.
func (cm *ClientMetrics) GetRegistry() *prometheus.Registry {
	return cm.registry
}

// Server exposes a ClientMetrics instance over HTTP at /metrics.
type Server struct {
	metrics *ClientMetrics
	server  *http.Server
}

// NewServer builds a metrics HTTP server bound to addr.
func NewServer(metrics *ClientMetrics, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		metrics: metrics,
		server:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start runs the metrics server until it errors or is shut down. It is
// intended to be called from a goroutine.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
