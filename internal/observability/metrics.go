package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Result label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// MetricsManager manages Prometheus metrics.
// All record methods are safe to call on a nil receiver.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	clientsCached   prometheus.Gauge
	connects        *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	stateChanges    *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	scanLaunched    prometheus.Counter
	installs        *prometheus.CounterVec
	secretsStripped prometheus.Counter
}

// NewMetricsManager creates a new metrics manager with its own registry
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.clientsCached = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpctx_clients_cached",
		Help: "Number of cached client handles",
	})

	mm.connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpctx_connects_total",
			Help: "Connect attempts by server and result",
		},
		[]string{"server", "result"},
	)

	mm.connectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpctx_connect_duration_seconds",
			Help:    "Time spent building and connecting a transport",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	mm.stateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpctx_connection_state_changes_total",
			Help: "Connection state transitions",
		},
		[]string{"server", "from", "to"},
	)

	mm.refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpctx_token_refreshes_total",
			Help: "Credential refresh exchanges by result",
		},
		[]string{"server", "result"},
	)

	mm.refreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcpctx_token_refresh_duration_seconds",
		Help:    "Duration of discovery plus refresh exchange",
		Buckets: prometheus.DefBuckets,
	})

	mm.scanLaunched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcpctx_scan_refreshes_launched_total",
		Help: "Refreshes launched by the periodic scan",
	})

	mm.installs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpctx_extension_installs_total",
			Help: "Extension install attempts by result",
		},
		[]string{"result"},
	)

	mm.secretsStripped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcpctx_missing_secret_refs_stripped_total",
		Help: "User config entries removed because their secret disappeared",
	})
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.clientsCached,
		mm.connects,
		mm.connectDuration,
		mm.stateChanges,
		mm.refreshes,
		mm.refreshDuration,
		mm.scanLaunched,
		mm.installs,
		mm.secretsStripped,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetClientsCached sets the number of cached handles
func (mm *MetricsManager) SetClientsCached(n int) {
	if mm == nil {
		return
	}
	mm.clientsCached.Set(float64(n))
}

// RecordConnect records a connect attempt
func (mm *MetricsManager) RecordConnect(server, result string, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.connects.WithLabelValues(server, result).Inc()
	mm.connectDuration.WithLabelValues(server).Observe(duration.Seconds())
}

// RecordStateChange records a connection state transition
func (mm *MetricsManager) RecordStateChange(server, from, to string) {
	if mm == nil {
		return
	}
	mm.stateChanges.WithLabelValues(server, from, to).Inc()
}

// RecordRefresh records a finished refresh job
func (mm *MetricsManager) RecordRefresh(server, result string, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.refreshes.WithLabelValues(server, result).Inc()
	mm.refreshDuration.Observe(duration.Seconds())
}

// RecordScanLaunch counts a refresh started by the periodic scan
func (mm *MetricsManager) RecordScanLaunch() {
	if mm == nil {
		return
	}
	mm.scanLaunched.Inc()
}

// RecordInstall records an extension install attempt
func (mm *MetricsManager) RecordInstall(result string) {
	if mm == nil {
		return
	}
	mm.installs.WithLabelValues(result).Inc()
}

// RecordSecretsStripped counts user config entries removed from a record
func (mm *MetricsManager) RecordSecretsStripped(n int) {
	if mm == nil {
		return
	}
	mm.secretsStripped.Add(float64(n))
}
