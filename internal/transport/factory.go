package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/oauth"
	"github.com/smart-mcp-proxy/mcpctx/internal/observability"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
	"github.com/smart-mcp-proxy/mcpctx/internal/secureenv"
)

// ServerUpdater persists a modified server record
type ServerUpdater interface {
	UpdateServer(ctx context.Context, server *config.ServerConfig) error
}

// SecretRegistrar masks resolved secret values in logs
type SecretRegistrar interface {
	RegisterResolvedSecret(value string)
}

// FactoryConfig wires a Factory
type FactoryConfig struct {
	Secrets     secret.Store
	Credentials *oauth.CredentialStore
	Servers     ServerUpdater
	Env         *secureenv.Manager
	Sanitizer   SecretRegistrar
	Metrics     *observability.MetricsManager
	ClientInfo  ClientInfo
	HTTPTimeout time.Duration
	// TraceHTTP logs every HTTP exchange at debug level
	TraceHTTP bool
}

// Factory builds transports for server configurations
type Factory struct {
	secrets     secret.Store
	credentials *oauth.CredentialStore
	servers     ServerUpdater
	env         *secureenv.Manager
	sanitizer   SecretRegistrar
	metrics     *observability.MetricsManager
	clientInfo  ClientInfo
	httpTimeout time.Duration
	traceHTTP   bool
	logger      *zap.Logger
	now         func() time.Time
}

// NewFactory creates a transport factory
func NewFactory(cfg FactoryConfig, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.L()
	}
	if cfg.Env == nil {
		cfg.Env = secureenv.NewManager(secureenv.DefaultEnvConfig())
	}
	if cfg.Credentials == nil && cfg.Secrets != nil {
		cfg.Credentials = oauth.NewCredentialStore(cfg.Secrets)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.ClientInfo.Name == "" {
		cfg.ClientInfo = ClientInfo{Name: "mcpctx", Version: "dev"}
	}

	return &Factory{
		secrets:     cfg.Secrets,
		credentials: cfg.Credentials,
		servers:     cfg.Servers,
		env:         cfg.Env,
		sanitizer:   cfg.Sanitizer,
		metrics:     cfg.Metrics,
		clientInfo:  cfg.ClientInfo,
		httpTimeout: cfg.HTTPTimeout,
		traceHTTP:   cfg.TraceHTTP,
		logger:      logger.Named("transport-factory"),
		now:         time.Now,
	}
}

// Build creates an unconnected transport for server
func (f *Factory) Build(ctx context.Context, server *config.ServerConfig) (Transport, error) {
	switch server.Kind {
	case config.KindStdio:
		return f.buildStdioServer(server)
	case config.KindStreamableHTTP:
		return f.buildHTTP(ctx, server)
	case config.KindDXT:
		return f.buildBundle(ctx, server)
	default:
		return nil, &UnsupportedTransportError{Kind: server.Kind}
	}
}
