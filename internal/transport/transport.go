// Package transport builds not-yet-connected MCP transports for configured servers.
package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Transport is a built but unconnected connection to one server
type Transport interface {
	// Kind is the config.Kind* value the transport was built for
	Kind() string
	// Connect starts the transport and performs the MCP initialize handshake
	Connect(ctx context.Context) (*mcp.InitializeResult, error)
	Close() error
}

// AuthorizationUpdater is implemented by transports whose bearer credential
// can be swapped while connected.
type AuthorizationUpdater interface {
	SetAuthorization(token string)
	ClearAuthorization()
	HasAuthorization() bool
}

// ClientInfo identifies this process in the initialize handshake
type ClientInfo struct {
	Name    string
	Version string
}

// mcpTransport adapts an mcp-go client to Transport
type mcpTransport struct {
	kind string
	info ClientInfo
	mcp  *client.Client
	// detached starts the transport on a background context so a stdio
	// child outlives the connect call
	detached bool
	bearer   *bearerRoundTripper
	// launch is the shell command line for subprocess transports
	launch []string
}

func (t *mcpTransport) Kind() string { return t.kind }

func (t *mcpTransport) Connect(ctx context.Context) (*mcp.InitializeResult, error) {
	startCtx := ctx
	if t.detached {
		startCtx = context.Background()
	}
	if err := t.mcp.Start(startCtx); err != nil {
		return nil, fmt.Errorf("failed to start %s transport: %w", t.kind, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    t.info.Name,
		Version: t.info.Version,
	}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	result, err := t.mcp.Initialize(ctx, req)
	if err != nil {
		if t.bearer != nil && t.bearer.sawUnauthorized() {
			err = fmt.Errorf("%w: %w", ErrAuthorizationRequired, err)
		}
		_ = t.mcp.Close()
		return nil, fmt.Errorf("MCP initialize failed: %w", err)
	}
	return result, nil
}

func (t *mcpTransport) Close() error {
	return t.mcp.Close()
}

// MCPClient exposes the underlying client for protocol calls
func (t *mcpTransport) MCPClient() *client.Client {
	return t.mcp
}

// httpTransport is an mcpTransport whose bearer can be updated in place
type httpTransport struct {
	*mcpTransport
}

func (t *httpTransport) SetAuthorization(token string) { t.bearer.Set(token) }
func (t *httpTransport) ClearAuthorization() { t.bearer.Clear() }
func (t *httpTransport) HasAuthorization() bool { return t.bearer.Token() != "" }
