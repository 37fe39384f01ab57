package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/extension"
	"github.com/smart-mcp-proxy/mcpctx/internal/logs"
	"github.com/smart-mcp-proxy/mcpctx/internal/oauth"
	"github.com/smart-mcp-proxy/mcpctx/internal/observability"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
	"github.com/smart-mcp-proxy/mcpctx/internal/secureenv"
	"github.com/smart-mcp-proxy/mcpctx/internal/storage"
	"github.com/smart-mcp-proxy/mcpctx/internal/transport"
	"github.com/smart-mcp-proxy/mcpctx/internal/upstream"
)

// app holds the wired components shared by every command
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *storage.BoltDB
	secrets   secret.Store
	obs       *observability.Manager
	manager   *upstream.Manager
	installer *extension.Installer
}

// newApp loads configuration and wires storage, secrets, transports, the
// connection manager and the installer. serverCommand selects the default log level.
func newApp(serverCommand bool) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, sanitizer, err := logs.SetupCommandLogger(cfg.Logging, serverCommand, logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	keyring := secret.NewKeyringStore()
	var secrets secret.Store = keyring
	if !keyring.IsAvailable() {
		logger.Warn("OS keyring unavailable, secrets will not outlive this process")
		secrets = secret.NewMemoryStore()
	}

	a, err := wireApp(cfg, logger, sanitizer, secrets)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func wireApp(cfg *config.Config, logger *zap.Logger, sanitizer transport.SecretRegistrar, secrets secret.Store) (*app, error) {
	store, err := storage.NewBoltDB(cfg.DataDir, logger.Sugar())
	if err != nil {
		return nil, fmt.Errorf("failed to open config store: %w", err)
	}

	obs, err := observability.NewManager(logger.Sugar(), cfg.Observability, version)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup observability: %w", err)
	}

	credentials := oauth.NewCredentialStore(secrets)
	factory := transport.NewFactory(transport.FactoryConfig{
		Secrets:     secrets,
		Credentials: credentials,
		Servers:     store,
		Env:         secureenv.NewManager(cfg.Environment),
		Sanitizer:   sanitizer,
		Metrics:     obs.Metrics(),
		ClientInfo:  transport.ClientInfo{Name: "mcpctx", Version: version},
		TraceHTTP:   logLevel == logs.LogLevelTrace || (cfg.Logging != nil && cfg.Logging.Level == logs.LogLevelTrace),
	}, logger)

	var refresh config.RefreshConfig
	if cfg.Refresh != nil {
		refresh = *cfg.Refresh
	}
	manager := upstream.NewManager(upstream.ManagerConfig{
		Transports:       factory,
		Credentials:      credentials,
		Servers:          store,
		Refresher:        oauth.NewHTTPRefresher(nil, logger),
		RefreshInterval:  refresh.Interval,
		RefreshLookahead: refresh.Lookahead,
		Metrics:          obs.Metrics(),
		Tracing:          obs.Tracing(),
	}, logger)

	installerCfg := extension.InstallerConfig{
		InstallRoot: cfg.ExtensionInstallRoot(),
		Secrets:     secrets,
		Metrics:     obs.Metrics(),
		Tracing:     obs.Tracing(),
	}
	if cfg.Extensions != nil {
		installerCfg.TempRoot = cfg.Extensions.TempRoot
		installerCfg.AllowedTempRoots = cfg.Extensions.TempRoots
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		secrets:   secrets,
		obs:       obs,
		manager:   manager,
		installer: extension.NewInstaller(installerCfg, logger),
	}

	if err := a.seedServers(context.Background()); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

// seedServers copies servers from the config file into the store. Records
// already in the store win.
func (a *app) seedServers(ctx context.Context) error {
	for _, server := range a.cfg.Servers {
		_, err := a.store.GetServer(ctx, server.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrServerNotFound) {
			return fmt.Errorf("failed to read server %s: %w", server.ID, err)
		}
		if err := a.store.UpdateServer(ctx, server); err != nil {
			return fmt.Errorf("failed to store server %s: %w", server.ID, err)
		}
		a.logger.Debug("Seeded server from configuration", zap.String("server", server.ID))
	}
	return nil
}

// server looks up one record, mapping a miss to a structured error
func (a *app) server(ctx context.Context, id string) (*config.ServerConfig, error) {
	server, err := a.store.GetServer(ctx, id)
	if errors.Is(err, storage.ErrServerNotFound) {
		return nil, serverNotFound(id)
	}
	return server, err
}

func (a *app) close(ctx context.Context) {
	if err := a.manager.Close(ctx); err != nil {
		a.logger.Warn("Error disconnecting servers", zap.Error(err))
	}
	if err := a.obs.Close(ctx); err != nil {
		a.logger.Warn("Error closing observability", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Error closing config store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
