package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig holds configuration for OpenTelemetry tracing
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// TracingManager manages OpenTelemetry tracing.
// A nil or disabled manager hands back the caller's span unchanged.
type TracingManager struct {
	logger   *zap.SugaredLogger
	config   TracingConfig
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
	enabled  bool
}

// NewTracingManager creates a new tracing manager
func NewTracingManager(logger *zap.SugaredLogger, config TracingConfig) (*TracingManager, error) {
	tm := &TracingManager{
		logger:  logger,
		config:  config,
		enabled: config.Enabled,
	}

	if !config.Enabled {
		logger.Debug("OpenTelemetry tracing disabled")
		return tm, nil
	}

	if err := tm.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	logger.Infow("OpenTelemetry tracing initialized",
		"service_name", config.ServiceName,
		"otlp_endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate)

	return tm, nil
}

func (tm *TracingManager) initTracing() error {
	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(tm.config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tm.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(tm.config.SampleRate)),
	)

	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tm.tracer = otel.Tracer(tm.config.ServiceName)
	return nil
}

// Close shuts down the tracing provider
func (tm *TracingManager) Close(ctx context.Context) error {
	if tm == nil || !tm.enabled || tm.provider == nil {
		return nil
	}

	tm.logger.Info("Shutting down OpenTelemetry tracing")
	return tm.provider.Shutdown(ctx)
}

// IsEnabled returns whether tracing is enabled
func (tm *TracingManager) IsEnabled() bool {
	return tm != nil && tm.enabled
}

// StartSpan starts a new trace span
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if !tm.IsEnabled() {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return tm.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// TraceConnect creates a span around building and connecting a client
func (tm *TracingManager) TraceConnect(ctx context.Context, serverID, kind string) (context.Context, oteltrace.Span) {
	return tm.StartSpan(ctx, "connection.connect",
		attribute.String("server.id", serverID),
		attribute.String("server.kind", kind),
	)
}

// TraceRefresh creates a span around a credential refresh job
func (tm *TracingManager) TraceRefresh(ctx context.Context, serverID, jobID string) (context.Context, oteltrace.Span) {
	return tm.StartSpan(ctx, "oauth.refresh",
		attribute.String("server.id", serverID),
		attribute.String("refresh.job_id", jobID),
	)
}

// TraceInstall creates a span around an extension install
func (tm *TracingManager) TraceInstall(ctx context.Context, serverID string) (context.Context, oteltrace.Span) {
	return tm.StartSpan(ctx, "extension.install",
		attribute.String("server.id", serverID),
	)
}

// EndSpan records err (if any) on span and ends it
func EndSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
