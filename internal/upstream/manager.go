// Package upstream caches one connected client handle per server id.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/oauth"
	"github.com/smart-mcp-proxy/mcpctx/internal/observability"
	"github.com/smart-mcp-proxy/mcpctx/internal/storage"
	"github.com/smart-mcp-proxy/mcpctx/internal/transport"
	"github.com/smart-mcp-proxy/mcpctx/internal/upstream/types"
)

// TransportBuilder builds unconnected transports
type TransportBuilder interface {
	Build(ctx context.Context, server *config.ServerConfig) (transport.Transport, error)
}

// ServerStore is the part of the configuration store the manager needs
type ServerStore interface {
	ListServers(ctx context.Context) ([]*config.ServerConfig, error)
	DeleteServer(ctx context.Context, id string) error
}

// ManagerConfig wires a Manager
type ManagerConfig struct {
	Transports  TransportBuilder
	Credentials *oauth.CredentialStore
	Servers     ServerStore
	Refresher   oauth.Refresher

	RefreshInterval  time.Duration
	RefreshLookahead time.Duration

	Metrics *observability.MetricsManager
	Tracing *observability.TracingManager
}

// entry is a cache slot. busy is non-nil while a build or connect for the
// id is in progress; waiters block on it and then look again.
type entry struct {
	client *Client
	busy   chan struct{}
}

// Manager owns the client cache and the credential refresh coordinator
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	transports  TransportBuilder
	credentials *oauth.CredentialStore
	servers     ServerStore
	refresh     *oauth.Coordinator
	notifier    notifier

	metrics *observability.MetricsManager
	tracing *observability.TracingManager
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates a manager. The refresh scan starts lazily on the first Client call.
func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.L()
	}

	m := &Manager{
		entries:     make(map[string]*entry),
		transports:  cfg.Transports,
		credentials: cfg.Credentials,
		servers:     cfg.Servers,
		metrics:     cfg.Metrics,
		tracing:     cfg.Tracing,
		logger:      logger.Named("connection-manager"),
		now:         time.Now,
	}

	m.refresh = oauth.NewCoordinator(oauth.CoordinatorConfig{
		Refresher:   cfg.Refresher,
		Servers:     cfg.Servers,
		Credentials: cfg.Credentials,
		Persist:     m.StoreCredential,
		Interval:    cfg.RefreshInterval,
		Lookahead:   cfg.RefreshLookahead,
		Metrics:     cfg.Metrics,
		Tracing:     cfg.Tracing,
	}, logger)

	return m
}

// Coordinator returns the credential refresh coordinator
func (m *Manager) Coordinator() *oauth.Coordinator {
	return m.refresh
}

// Client returns the connected handle for server, connecting it on first use.
// Concurrent calls for one id share a single build and connect.
func (m *Manager) Client(ctx context.Context, server *config.ServerConfig) (*Client, error) {
	m.refresh.EnsureStarted()
	return m.acquire(ctx, server, true)
}

// CreateUnconnectedClient returns the cached handle for server, building but
// not connecting it when absent.
func (m *Manager) CreateUnconnectedClient(ctx context.Context, server *config.ServerConfig) (*Client, error) {
	return m.acquire(ctx, server, false)
}

func (m *Manager) acquire(ctx context.Context, server *config.ServerConfig, connect bool) (*Client, error) {
	if server == nil || server.ID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	id := server.ID

	for {
		m.mu.Lock()
		e, ok := m.entries[id]
		if ok && e.busy != nil {
			busy := e.busy
			m.mu.Unlock()

			m.logger.Debug("Waiting for in-progress connect", zap.String("server", id))
			select {
			case <-busy:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if ok && (!connect || e.client.IsConnected()) {
			m.mu.Unlock()
			return e.client, nil
		}

		created := !ok
		if created {
			e = &entry{}
			m.entries[id] = e
		}
		busy := make(chan struct{})
		e.busy = busy
		existing := e.client
		m.mu.Unlock()

		c, err := m.prepare(ctx, server, existing, connect)

		m.mu.Lock()
		e.busy = nil
		if err != nil {
			if created && m.entries[id] == e {
				delete(m.entries, id)
			}
		} else {
			e.client = c
		}
		cached := len(m.entries)
		m.mu.Unlock()
		close(busy)

		m.metrics.SetClientsCached(cached)
		return c, err
	}
}

// prepare runs without the manager lock held
func (m *Manager) prepare(ctx context.Context, server *config.ServerConfig, existing *Client, connect bool) (*Client, error) {
	c := existing
	if c == nil {
		t, err := m.transports.Build(ctx, server)
		if err != nil {
			m.logger.Warn("Failed to build transport",
				zap.String("server", server.ID),
				zap.String("kind", server.Kind),
				zap.Error(err))
			return nil, err
		}
		c = newClient(server, t, m.logger)
		c.state.SetStateChangeCallback(m.stateChanged(server.ID))
	}

	if !connect {
		return c, nil
	}
	if c.needsTransport() {
		t, err := m.transports.Build(ctx, server)
		if err != nil {
			m.logger.Warn("Failed to rebuild transport",
				zap.String("server", server.ID),
				zap.String("kind", server.Kind),
				zap.Error(err))
			return nil, err
		}
		m.logger.Debug("Rebuilt transport after failed connect", zap.String("server", server.ID))
		c.replaceTransport(t)
	}
	if err := m.connect(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Manager) connect(ctx context.Context, c *Client) error {
	start := m.now()
	ctx, span := m.tracing.TraceConnect(ctx, c.ID(), c.Kind())

	err := c.Connect(ctx)

	observability.EndSpan(span, err)
	result := observability.StatusSuccess
	if err != nil {
		result = observability.StatusError
	}
	m.metrics.RecordConnect(c.ID(), result, m.now().Sub(start))

	if err != nil && transport.IsAuthorizationRequired(err) {
		m.logAuthorizationRequired(ctx, c.ID(), err)
	}
	return err
}

// logAuthorizationRequired explains an auth failure. The error itself is
// returned to the caller unchanged and never retried here.
func (m *Manager) logAuthorizationRequired(ctx context.Context, id string, err error) {
	cred, loadErr := m.RetrieveCredential(ctx, id)
	if loadErr == nil && cred.IsExpired(m.now()) && cred.HasRefreshToken() {
		m.logger.Warn("Authorization required and stored credential is expired; refresh it before reconnecting",
			zap.String("server", id),
			zap.Time("expired_at", cred.ExpiresAt),
			zap.Error(err))
		return
	}
	m.logger.Warn("Authorization required by upstream server",
		zap.String("server", id),
		zap.Error(err))
}

func (m *Manager) stateChanged(id string) types.StateChangeFunc {
	return func(oldState, newState types.ConnectionState, info types.ConnectionInfo) {
		m.metrics.RecordStateChange(id, oldState.String(), newState.String())
		m.logger.Debug("Connection state changed",
			zap.String("server", id),
			zap.String("from", oldState.String()),
			zap.String("to", newState.String()))

		m.notifier.dispatch(StateChange{
			ServerID: id,
			From:     oldState,
			To:       newState,
			Info:     info,
		})
	}
}

// AddStateChangeHandler registers handler for every handle's transitions
func (m *Manager) AddStateChangeHandler(handler StateChangeHandler) {
	m.notifier.add(handler)
}

// Disconnect tears down and forgets the handle for id. Absent ids are a
// no-op. A connect for the same id waits until the teardown has finished.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	for {
		m.mu.Lock()
		e, ok := m.entries[id]
		if !ok {
			m.mu.Unlock()
			return nil
		}
		if e.busy != nil {
			busy := e.busy
			m.mu.Unlock()
			select {
			case <-busy:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		busy := make(chan struct{})
		e.busy = busy
		m.mu.Unlock()

		m.logger.Info("Disconnecting upstream server", zap.String("server", id))
		err := e.client.Disconnect()

		m.mu.Lock()
		if m.entries[id] == e {
			delete(m.entries, id)
		}
		cached := len(m.entries)
		m.mu.Unlock()
		close(busy)

		m.metrics.SetClientsCached(cached)
		return err
	}
}

// DisconnectAll tears down every cached handle in parallel and empties the cache
func (m *Manager) DisconnectAll(ctx context.Context) error {
	var (
		entries map[string]*entry
		busy    chan struct{}
	)
	for {
		m.mu.Lock()
		var pending chan struct{}
		for _, e := range m.entries {
			if e.busy != nil {
				pending = e.busy
				break
			}
		}
		if pending == nil {
			busy = make(chan struct{})
			entries = make(map[string]*entry, len(m.entries))
			for id, e := range m.entries {
				e.busy = busy
				entries[id] = e
			}
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		select {
		case <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.logger.Info("Disconnecting all upstream servers", zap.Int("count", len(entries)))

	var g errgroup.Group
	for _, e := range entries {
		g.Go(e.client.Disconnect)
	}
	err := g.Wait()

	m.mu.Lock()
	for id, e := range entries {
		if m.entries[id] == e {
			delete(m.entries, id)
		}
	}
	cached := len(m.entries)
	m.mu.Unlock()
	close(busy)

	m.metrics.SetClientsCached(cached)
	return err
}

// ConnectionState returns the state of id's handle, Disconnected when absent
func (m *Manager) ConnectionState(id string) types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	switch {
	case !ok:
		return types.StateDisconnected
	case e.client == nil:
		return types.StateConnecting
	default:
		return e.client.State()
	}
}

// ExistingClient returns the cached handle without building one
func (m *Manager) ExistingClient(id string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.client == nil {
		return nil, false
	}
	return e.client, true
}

// StoreCredential persists cred and swaps the bearer of a cached HTTP handle in place
func (m *Manager) StoreCredential(ctx context.Context, id string, cred *oauth.Credential, clientID string) error {
	if err := m.credentials.Save(ctx, id, cred, clientID); err != nil {
		return err
	}

	if c, ok := m.ExistingClient(id); ok && c.SetAuthorization(cred.AccessToken) {
		m.logger.Debug("Updated live authorization", zap.String("server", id))
	}
	return nil
}

// RetrieveCredential returns the stored credential or oauth.ErrNoCredential
func (m *Manager) RetrieveCredential(ctx context.Context, id string) (*oauth.Credential, error) {
	return m.credentials.Load(ctx, id)
}

// DeleteCredential removes the stored credential and clears the bearer of a
// cached HTTP handle without reconnecting it.
func (m *Manager) DeleteCredential(ctx context.Context, id string) error {
	if err := m.credentials.Delete(ctx, id); err != nil {
		return err
	}

	if c, ok := m.ExistingClient(id); ok && c.ClearAuthorization() {
		m.logger.Debug("Cleared live authorization", zap.String("server", id))
	}
	return nil
}

// RefreshCredential exchanges stored's refresh token. Concurrent calls for
// one server share the exchange; the result is persisted under stored's client id.
func (m *Manager) RefreshCredential(ctx context.Context, server *config.ServerConfig, stored *oauth.Credential) (*oauth.Credential, error) {
	return m.refresh.Refresh(ctx, server, stored)
}

// RemoveServer disconnects id and deletes its credential and configuration record
func (m *Manager) RemoveServer(ctx context.Context, id string) error {
	var errs []error
	if err := m.Disconnect(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	if err := m.DeleteCredential(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("delete credential: %w", err))
	}
	if m.servers != nil {
		if err := m.servers.DeleteServer(ctx, id); err != nil && !errors.Is(err, storage.ErrServerNotFound) {
			errs = append(errs, fmt.Errorf("delete server record: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	m.logger.Info("Removed server", zap.String("server", id))
	return nil
}

// Close stops the refresh scan and disconnects everything
func (m *Manager) Close(ctx context.Context) error {
	m.refresh.Stop()
	return m.DisconnectAll(ctx)
}
