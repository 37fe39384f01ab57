package upstream

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/transport"
	"github.com/smart-mcp-proxy/mcpctx/internal/upstream/types"
)

// Client is the cached handle for one server. It owns the transport and
// tracks its connection state.
type Client struct {
	id     string
	config *config.ServerConfig
	state  *types.StateManager
	logger *zap.Logger

	mu         sync.RWMutex
	transport  transport.Transport
	serverInfo *mcp.InitializeResult
	started    bool
	// spent is set once a connect attempt failed; the transport has been
	// closed and cannot be started again
	spent bool
}

func newClient(cfg *config.ServerConfig, t transport.Transport, logger *zap.Logger) *Client {
	return &Client{
		id:        cfg.ID,
		config:    cfg.Clone(),
		state:     types.NewStateManager(),
		logger:    logger.With(zap.String("server", cfg.ID)),
		transport: t,
	}
}

// ID returns the server id
func (c *Client) ID() string {
	return c.id
}

// Config returns a copy of the configuration the handle was built from
func (c *Client) Config() *config.ServerConfig {
	return c.config.Clone()
}

// Kind returns the transport kind
func (c *Client) Kind() string {
	return c.Transport().Kind()
}

// Transport returns the underlying transport
func (c *Client) Transport() transport.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// needsTransport reports whether a failed connect closed the transport
func (c *Client) needsTransport() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spent
}

// replaceTransport installs a freshly built transport on a handle whose
// previous connect failed
func (c *Client) replaceTransport(t transport.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
	c.spent = false
}

// State returns the current connection state
func (c *Client) State() types.ConnectionState {
	return c.state.GetState()
}

// IsConnected reports whether the initialize handshake has completed
func (c *Client) IsConnected() bool {
	return c.state.IsConnected()
}

// ConnectionInfo returns a snapshot of the handle's state
func (c *Client) ConnectionInfo() types.ConnectionInfo {
	return c.state.GetConnectionInfo()
}

// ServerInfo returns the initialize result, or nil before a connect
func (c *Client) ServerInfo() *mcp.InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Connect performs the handshake. Connecting an already connected handle is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.state.IsConnected() {
		return nil
	}

	if err := c.state.TransitionTo(types.StateConnecting); err != nil {
		c.logger.Debug("Unexpected state transition", zap.Error(err))
	}

	t := c.Transport()
	c.logger.Info("Connecting to upstream server", zap.String("kind", t.Kind()))

	result, err := t.Connect(ctx)
	if err != nil {
		c.logger.Warn("Failed to connect to upstream server", zap.Error(err))
		c.mu.Lock()
		c.spent = true
		c.mu.Unlock()
		c.state.Fail(err)
		return err
	}

	c.mu.Lock()
	c.serverInfo = result
	c.started = true
	c.mu.Unlock()

	c.state.SetServerInfo(result.ServerInfo.Name, result.ServerInfo.Version)
	_ = c.state.TransitionTo(types.StateConnected)

	c.logger.Info("Connected to upstream server",
		zap.String("server_name", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol_version", result.ProtocolVersion))
	return nil
}

// Disconnect tears the transport down. A handle that never connected has
// nothing to close.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.mu.Unlock()

	_ = c.state.TransitionTo(types.StateDisconnecting)

	var err error
	if started {
		err = c.Transport().Close()
		if err != nil {
			c.logger.Warn("Error closing transport", zap.Error(err))
		}
	}

	_ = c.state.TransitionTo(types.StateDisconnected)
	c.logger.Debug("Disconnected from upstream server")
	return err
}

// SetAuthorization swaps the live bearer token. It reports false when the
// transport carries no bearer.
func (c *Client) SetAuthorization(token string) bool {
	updater, ok := c.Transport().(transport.AuthorizationUpdater)
	if !ok {
		return false
	}
	updater.SetAuthorization(token)
	return true
}

// ClearAuthorization removes the live bearer token
func (c *Client) ClearAuthorization() bool {
	updater, ok := c.Transport().(transport.AuthorizationUpdater)
	if !ok {
		return false
	}
	updater.ClearAuthorization()
	return true
}

// HasAuthorization reports whether a bearer token is currently attached
func (c *Client) HasAuthorization() bool {
	updater, ok := c.Transport().(transport.AuthorizationUpdater)
	return ok && updater.HasAuthorization()
}
