package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
	"github.com/smart-mcp-proxy/mcpctx/internal/secureenv"
)

func bg() context.Context { return context.Background() }

func stdioServer(id, command string) *config.ServerConfig {
	return &config.ServerConfig{ID: id, Kind: config.KindStdio, Command: command}
}

type recordingSanitizer struct {
	values []string
}

func (r *recordingSanitizer) RegisterResolvedSecret(value string) {
	r.values = append(r.values, value)
}

type testFactoryOption func(*FactoryConfig)

func newTestFactory(t *testing.T, opts ...testFactoryOption) *Factory {
	t.Helper()
	cfg := FactoryConfig{
		Secrets: secret.NewMemoryStore(),
		Env: secureenv.NewManager(&secureenv.EnvConfig{
			InheritSystemSafe: true,
			AllowedSystemVars: []string{"PATH", "HOME", "SHELL"},
		}),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewFactory(cfg, zaptest.NewLogger(t))
}

func TestBuildUnsupportedKind(t *testing.T) {
	f := newTestFactory(t)

	_, err := f.Build(bg(), &config.ServerConfig{ID: "x", Kind: "sse"})
	var unsupported *UnsupportedTransportError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "sse", unsupported.Kind)
}

func TestIsAuthorizationRequired(t *testing.T) {
	assert.False(t, IsAuthorizationRequired(nil))
	assert.True(t, IsAuthorizationRequired(ErrAuthorizationRequired))
	assert.True(t, IsAuthorizationRequired(fmt.Errorf("initialize: %w", ErrAuthorizationRequired)))
	assert.True(t, IsAuthorizationRequired(fmt.Errorf("send: %w", mcptransport.ErrUnauthorized)))
	assert.True(t, IsAuthorizationRequired(&mcptransport.OAuthAuthorizationRequiredError{}))
	assert.False(t, IsAuthorizationRequired(errors.New("connection refused")))
	assert.False(t, IsAuthorizationRequired(errors.New("dial tcp 127.0.0.1:4010: connection refused")))
	assert.False(t, IsAuthorizationRequired(errors.New("server srv-401 exited")))
}
