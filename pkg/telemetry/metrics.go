package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the host's Prometheus collectors on a private registry.
// Every Record method is a no-op when metrics are disabled.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	guestCalls    *prometheus.CounterVec
	guestLatency  *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	backendLoads  *prometheus.CounterVec
	backendLive   *prometheus.GaugeVec
	measureLoads  *prometheus.CounterVec
	measureLoadTm *prometheus.HistogramVec
}

// NewMetrics registers the collectors when cfg.Enabled is set.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{config: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	m.registry = prometheus.NewRegistry()
	f := promauto.With(m.registry)
	ns := cfg.Namespace

	m.guestCalls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "guest_calls_total",
		Help: "Exec and eval calls into a guest interpreter.",
	}, []string{"backend", "operation", "status"})
	m.guestLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "guest_call_duration_seconds",
		Help: "Latency of exec and eval calls.", Buckets: buckets,
	}, []string{"backend", "operation"})
	m.errors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "errors_total",
		Help: "Scripting errors by error code.",
	}, []string{"backend", "code"})
	m.backendLoads = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "backend_loads_total",
		Help: "Backend construction attempts.",
	}, []string{"backend", "status"})
	m.backendLive = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "backend_live",
		Help: "1 while a backend interpreter is live.",
	}, []string{"backend"})
	m.measureLoads = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "measure_loads_total",
		Help: "Measure discoveries and loads.",
	}, []string{"backend", "mode", "kind", "status"})
	m.measureLoadTm = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "measure_load_duration_seconds",
		Help: "Latency of measure discoveries and loads.", Buckets: buckets,
	}, []string{"backend", "mode"})

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordGuestCall counts an exec or eval call and observes its latency.
func (m *Metrics) RecordGuestCall(backend, operation, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.guestCalls.WithLabelValues(backend, operation, status).Inc()
	m.guestLatency.WithLabelValues(backend, operation).Observe(d.Seconds())
}

// RecordError counts a scripting error by its code.
func (m *Metrics) RecordError(backend, code string) {
	if !m.enabled() {
		return
	}
	m.errors.WithLabelValues(backend, code).Inc()
}

// RecordBackendLoad counts a backend construction attempt.
func (m *Metrics) RecordBackendLoad(backend, status string) {
	if !m.enabled() {
		return
	}
	m.backendLoads.WithLabelValues(backend, status).Inc()
}

// SetBackendLive flips the liveness gauge of backend.
func (m *Metrics) SetBackendLive(backend string, live bool) {
	if !m.enabled() {
		return
	}
	g := m.backendLive.WithLabelValues(backend)
	if live {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// RecordMeasureLoad counts a measure discovery or load and observes its
// latency.
func (m *Metrics) RecordMeasureLoad(backend, mode, kind, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.measureLoads.WithLabelValues(backend, mode, kind, status).Inc()
	m.measureLoadTm.WithLabelValues(backend, mode).Observe(d.Seconds())
}

// Registry is nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves Handler on the configured address. It returns a
// nil server when metrics are disabled or no address is set.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) (*http.Server, error) {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil, nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", srv.Addr).Msg("Metrics server stopped")
		}
	}()
	logger.Info().Str("address", srv.Addr).Str("path", path).Msg("Serving metrics")
	return srv, nil
}
