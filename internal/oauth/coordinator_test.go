package oauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
)

type fakeRefresher struct {
	exchanges atomic.Int32
	release   chan struct{}
	err       error
	token     string
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{token: "refreshed"}
}

func (f *fakeRefresher) Discover(_ context.Context, serverURL string) (*ServerMetadata, error) {
	return &ServerMetadata{TokenEndpoint: serverURL + "/token"}, nil
}

func (f *fakeRefresher) Exchange(ctx context.Context, _ *ServerMetadata, stored *Credential) (*Credential, error) {
	f.exchanges.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Credential{
		AccessToken:  f.token,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

type staticServers struct {
	calls   atomic.Int32
	servers []*config.ServerConfig
	err     error
}

func (s *staticServers) ListServers(context.Context) ([]*config.ServerConfig, error) {
	s.calls.Add(1)
	return s.servers, s.err
}

func httpServer(id string) *config.ServerConfig {
	return &config.ServerConfig{ID: id, Kind: config.KindStreamableHTTP, URL: "https://" + id + ".example.com/mcp"}
}

// Background refreshes may log after a test returns, so these use a no-op logger.
func newTestCoordinator(t *testing.T, refresher Refresher, servers ServerLister) (*Coordinator, *CredentialStore) {
	t.Helper()
	creds := NewCredentialStore(secret.NewMemoryStore())
	c := NewCoordinator(CoordinatorConfig{
		Refresher:   refresher,
		Servers:     servers,
		Credentials: creds,
	}, zap.NewNop())
	t.Cleanup(c.Stop)
	return c, creds
}

func TestRefreshSharesOneExchange(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.release = make(chan struct{})
	c, creds := newTestCoordinator(t, refresher, nil)

	server := httpServer("a")
	stored := &Credential{AccessToken: "old", RefreshToken: "rt", ClientID: "client-a"}

	const callers = 8
	results := make([]*Credential, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background(), server, stored)
		}(i)
	}

	require.Eventually(t, func() bool {
		waiters, ok := c.inFlight("a")
		return ok && waiters == callers
	}, 2*time.Second, 5*time.Millisecond)

	close(refresher.release)
	wg.Wait()

	assert.Equal(t, int32(1), refresher.exchanges.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, "client-a", results[0].ClientID)

	_, ok := c.inFlight("a")
	assert.False(t, ok, "job is removed on completion")

	saved, err := creds.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", saved.AccessToken)
	assert.Equal(t, "client-a", saved.ClientID)
}

func TestRefreshSharesFailure(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.release = make(chan struct{})
	refresher.err = errors.New("status 400: invalid_grant")
	c, creds := newTestCoordinator(t, refresher, nil)

	server := httpServer("a")
	stored := &Credential{AccessToken: "old", RefreshToken: "rt"}

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := c.Refresh(context.Background(), server, stored)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool {
		waiters, _ := c.inFlight("a")
		return waiters == 3
	}, 2*time.Second, 5*time.Millisecond)
	close(refresher.release)

	for i := 0; i < 3; i++ {
		assert.EqualError(t, <-errs, "status 400: invalid_grant")
	}
	assert.Equal(t, int32(1), refresher.exchanges.Load())

	_, err := creds.Load(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNoCredential, "failed refresh persists nothing")

	// A later call starts a fresh job.
	refresher.err = nil
	cred, err := c.Refresh(context.Background(), server, stored)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", cred.AccessToken)
	assert.Equal(t, int32(2), refresher.exchanges.Load())
}

func TestRefreshRequiresRefreshTokenAndURL(t *testing.T) {
	refresher := newFakeRefresher()
	c, _ := newTestCoordinator(t, refresher, nil)

	_, err := c.Refresh(context.Background(), httpServer("a"), &Credential{AccessToken: "a"})
	assert.ErrorIs(t, err, ErrMissingRefreshToken)

	_, err = c.Refresh(context.Background(), httpServer("a"), nil)
	assert.ErrorIs(t, err, ErrMissingRefreshToken)

	noURL := &config.ServerConfig{ID: "b", Kind: config.KindStreamableHTTP}
	_, err = c.Refresh(context.Background(), noURL, &Credential{RefreshToken: "rt"})
	assert.ErrorIs(t, err, ErrMissingRefreshToken)

	assert.Zero(t, refresher.exchanges.Load())
}

func TestRefreshCallerCancelDoesNotCancelJob(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.release = make(chan struct{})
	c, creds := newTestCoordinator(t, refresher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, httpServer("a"), &Credential{RefreshToken: "rt"})
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		_, ok := c.inFlight("a")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(refresher.release)
	require.Eventually(t, func() bool {
		_, err := creds.Load(context.Background(), "a")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScanOnceLaunchesExpiringOnly(t *testing.T) {
	servers := &staticServers{servers: []*config.ServerConfig{
		httpServer("expiring"),
		httpServer("fresh"),
		httpServer("no-refresh"),
		httpServer("no-credential"),
		{ID: "local", Kind: config.KindStdio, Command: "echo"},
	}}
	refresher := newFakeRefresher()
	c, creds := newTestCoordinator(t, refresher, servers)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, creds.Save(ctx, "expiring", &Credential{AccessToken: "a", RefreshToken: "rt", ExpiresAt: now.Add(4 * time.Minute)}, "client-x"))
	require.NoError(t, creds.Save(ctx, "fresh", &Credential{AccessToken: "a", RefreshToken: "rt", ExpiresAt: now.Add(time.Hour)}, "client-y"))
	require.NoError(t, creds.Save(ctx, "no-refresh", &Credential{AccessToken: "a", ExpiresAt: now.Add(time.Minute)}, "client-z"))
	require.NoError(t, creds.Save(ctx, "local", &Credential{AccessToken: "a", RefreshToken: "rt", ExpiresAt: now.Add(time.Minute)}, "client-l"))

	assert.Equal(t, 1, c.ScanOnce(ctx))

	require.Eventually(t, func() bool {
		cred, err := creds.Load(ctx, "expiring")
		return err == nil && cred.AccessToken == "refreshed"
	}, 2*time.Second, 5*time.Millisecond)

	cred, err := creds.Load(ctx, "expiring")
	require.NoError(t, err)
	assert.Equal(t, "client-x", cred.ClientID)
	assert.Equal(t, int32(1), refresher.exchanges.Load())

	fresh, err := creds.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "a", fresh.AccessToken)
}

func TestScanOnceSurvivesFailures(t *testing.T) {
	servers := &staticServers{servers: []*config.ServerConfig{httpServer("a"), httpServer("b")}}
	refresher := newFakeRefresher()
	refresher.err = errors.New("dial tcp: connection refused")
	c, creds := newTestCoordinator(t, refresher, servers)
	ctx := context.Background()

	soon := time.Now().Add(time.Minute)
	require.NoError(t, creds.Save(ctx, "a", &Credential{RefreshToken: "rt", ExpiresAt: soon}, ""))
	require.NoError(t, creds.Save(ctx, "b", &Credential{RefreshToken: "rt", ExpiresAt: soon}, ""))

	assert.Equal(t, 2, c.ScanOnce(ctx))
	require.Eventually(t, func() bool {
		return refresher.exchanges.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)

	servers.err = errors.New("store closed")
	assert.Zero(t, c.ScanOnce(ctx))
}

func TestEnsureStartedIsIdempotent(t *testing.T) {
	servers := &staticServers{}
	c := NewCoordinator(CoordinatorConfig{
		Refresher:   newFakeRefresher(),
		Servers:     servers,
		Credentials: NewCredentialStore(secret.NewMemoryStore()),
		Interval:    time.Hour,
	}, zaptest.NewLogger(t))

	c.EnsureStarted()
	c.EnsureStarted()
	c.EnsureStarted()

	require.Eventually(t, func() bool {
		return servers.calls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), servers.calls.Load(), "one loop scans once per interval")

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the scan interval")
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{}, zaptest.NewLogger(t))
	c.Stop()
	assert.Zero(t, c.ScanOnce(context.Background()))
}
