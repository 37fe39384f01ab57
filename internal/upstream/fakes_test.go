package upstream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/oauth"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
	"github.com/smart-mcp-proxy/mcpctx/internal/transport"
)

func bg() context.Context {
	return context.Background()
}

type fakeTransport struct {
	kind     string
	connects atomic.Int32
	closes   atomic.Int32
	// release gates Connect when non-nil
	release chan struct{}
	// closeRelease gates Close when non-nil
	closeRelease chan struct{}
	err          error
}

func (t *fakeTransport) Kind() string { return t.kind }

func (t *fakeTransport) Connect(ctx context.Context) (*mcp.InitializeResult, error) {
	t.connects.Add(1)
	if t.release != nil {
		select {
		case <-t.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.err != nil {
		return nil, t.err
	}
	return &mcp.InitializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ServerInfo:      mcp.Implementation{Name: "fake-upstream", Version: "0.3.0"},
	}, nil
}

func (t *fakeTransport) Close() error {
	t.closes.Add(1)
	if t.closeRelease != nil {
		<-t.closeRelease
	}
	return nil
}

// fakeHTTPTransport also carries a live bearer
type fakeHTTPTransport struct {
	*fakeTransport
	mu    sync.Mutex
	token string
}

func (t *fakeHTTPTransport) SetAuthorization(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

func (t *fakeHTTPTransport) ClearAuthorization() { t.SetAuthorization("") }

func (t *fakeHTTPTransport) HasAuthorization() bool { return t.bearer() != "" }

func (t *fakeHTTPTransport) bearer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

type fakeBuilder struct {
	builds atomic.Int32
	err    error

	mu         sync.Mutex
	transports map[string]transport.Transport
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{transports: make(map[string]transport.Transport)}
}

// set registers the transport returned for id
func (b *fakeBuilder) set(id string, t transport.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transports[id] = t
}

func (b *fakeBuilder) Build(_ context.Context, server *config.ServerConfig) (transport.Transport, error) {
	b.builds.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.transports[server.ID]; ok {
		return t, nil
	}
	return &fakeTransport{kind: server.Kind}, nil
}

type fakeServerStore struct {
	mu      sync.Mutex
	servers []*config.ServerConfig
	deleted []string
}

func (s *fakeServerStore) ListServers(_ context.Context) ([]*config.ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*config.ServerConfig(nil), s.servers...), nil
}

func (s *fakeServerStore) DeleteServer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

type fakeRefresher struct {
	exchanges atomic.Int32
	release   chan struct{}
	err       error
}

func (r *fakeRefresher) Discover(_ context.Context, serverURL string) (*oauth.ServerMetadata, error) {
	return &oauth.ServerMetadata{TokenEndpoint: serverURL + "/token"}, nil
}

func (r *fakeRefresher) Exchange(ctx context.Context, _ *oauth.ServerMetadata, stored *oauth.Credential) (*oauth.Credential, error) {
	r.exchanges.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &oauth.Credential{
		AccessToken:  "rotated-token",
		RefreshToken: stored.RefreshToken,
		TokenType:    "Bearer",
	}, nil
}

type testManager struct {
	*Manager
	builder   *fakeBuilder
	servers   *fakeServerStore
	refresher *fakeRefresher
	secrets   *secret.MemoryStore
}

// newTestManager returns a manager over fakes. The refresh scan starts on
// the first Client call and may log after a test returns, so it uses a
// no-op logger.
func newTestManager(t *testing.T) *testManager {
	t.Helper()
	tm := &testManager{
		builder:   newFakeBuilder(),
		servers:   &fakeServerStore{},
		refresher: &fakeRefresher{},
		secrets:   secret.NewMemoryStore(),
	}
	tm.Manager = NewManager(ManagerConfig{
		Transports:  tm.builder,
		Credentials: oauth.NewCredentialStore(tm.secrets),
		Servers:     tm.servers,
		Refresher:   tm.refresher,
	}, zap.NewNop())

	t.Cleanup(func() {
		require.NoError(t, tm.Close(bg()))
	})
	return tm
}

func stdioServer(id string) *config.ServerConfig {
	return &config.ServerConfig{ID: id, Kind: config.KindStdio, Command: "upstream-" + id}
}

func httpServer(id string) *config.ServerConfig {
	return &config.ServerConfig{ID: id, Kind: config.KindStreamableHTTP, URL: "https://" + id + ".example.com/mcp"}
}
