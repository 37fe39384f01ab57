package observability

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
)

// Manager bundles metrics and tracing so components take a single dependency
type Manager struct {
	logger  *zap.SugaredLogger
	metrics *MetricsManager
	tracing *TracingManager
}

// NewManager creates the observability stack described by cfg.
// A nil cfg yields a manager with both features disabled.
func NewManager(logger *zap.SugaredLogger, cfg *config.ObservabilityConfig, serviceVersion string) (*Manager, error) {
	m := &Manager{logger: logger}
	if cfg == nil {
		cfg = &config.ObservabilityConfig{}
	}

	if cfg.MetricsEnabled {
		m.metrics = NewMetricsManager(logger)
		logger.Info("Prometheus metrics enabled")
	}

	tracing, err := NewTracingManager(logger, TracingConfig{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "mcpctx",
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	m.tracing = tracing

	return m, nil
}

// Metrics returns the metrics manager; nil when metrics are disabled
func (m *Manager) Metrics() *MetricsManager {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Tracing returns the tracing manager; nil when m is nil
func (m *Manager) Tracing() *TracingManager {
	if m == nil {
		return nil
	}
	return m.tracing
}

// MetricsHandler returns the /metrics handler or nil when disabled
func (m *Manager) MetricsHandler() http.Handler {
	if m.Metrics() == nil {
		return nil
	}
	return m.metrics.Handler()
}

// Close flushes tracing
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.tracing.Close(ctx)
}
