package oauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/observability"
)

const (
	DefaultScanInterval  = 60 * time.Second
	DefaultScanLookahead = 5 * time.Minute

	refreshJobTimeout = 60 * time.Second
)

// ServerLister supplies the configured servers for scanning
type ServerLister interface {
	ListServers(ctx context.Context) ([]*config.ServerConfig, error)
}

// PersistFunc stores a refreshed credential under the original client id
type PersistFunc func(ctx context.Context, serverID string, cred *Credential, clientID string) error

// refreshJob is one in-flight refresh shared by every caller for a server
type refreshJob struct {
	id      string
	done    chan struct{}
	cred    *Credential
	err     error
	waiters int
}

// CoordinatorConfig wires a Coordinator
type CoordinatorConfig struct {
	Refresher   Refresher
	Servers     ServerLister
	Credentials *CredentialStore
	// Persist defaults to Credentials.Save
	Persist   PersistFunc
	Interval  time.Duration
	Lookahead time.Duration
	Metrics   *observability.MetricsManager
	Tracing   *observability.TracingManager
}

// Coordinator runs the periodic credential scan and collapses concurrent
// refreshes for the same server into one exchange.
type Coordinator struct {
	refresher   Refresher
	servers     ServerLister
	credentials *CredentialStore
	persist     PersistFunc
	interval    time.Duration
	lookahead   time.Duration
	metrics     *observability.MetricsManager
	tracing     *observability.TracingManager
	logger      *zap.Logger
	now         func() time.Time

	mu   sync.Mutex
	jobs map[string]*refreshJob

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCoordinator creates a stopped coordinator
func NewCoordinator(cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.L()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultScanInterval
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultScanLookahead
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		refresher:   cfg.Refresher,
		servers:     cfg.Servers,
		credentials: cfg.Credentials,
		persist:     cfg.Persist,
		interval:    cfg.Interval,
		lookahead:   cfg.Lookahead,
		metrics:     cfg.Metrics,
		tracing:     cfg.Tracing,
		logger:      logger.Named("refresh-coordinator"),
		now:         time.Now,
		jobs:        make(map[string]*refreshJob),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	if c.persist == nil && c.credentials != nil {
		c.persist = c.credentials.Save
	}
	return c
}

// SetPersist replaces the store path used after a successful refresh
func (c *Coordinator) SetPersist(persist PersistFunc) {
	c.mu.Lock()
	c.persist = persist
	c.mu.Unlock()
}

// EnsureStarted launches the scan loop once; later calls are no-ops
func (c *Coordinator) EnsureStarted() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	c.logger.Info("Starting credential refresh scan",
		zap.Duration("interval", c.interval),
		zap.Duration("lookahead", c.lookahead))

	go c.loop()
}

// Stop interrupts the scan loop and waits for it to exit.
// In-flight refresh jobs keep running to completion.
func (c *Coordinator) Stop() {
	c.cancel()
	if c.started.Load() {
		<-c.done
	}
}

func (c *Coordinator) loop() {
	defer close(c.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Credential refresh scan stopped")
			return
		case <-timer.C:
			c.ScanOnce(c.ctx)
			timer.Reset(c.interval)
		}
	}
}

// ScanOnce checks every streamable HTTP server and launches a refresh for
// credentials expiring within the lookahead. It does not wait for them.
// Returns the number of refreshes launched.
func (c *Coordinator) ScanOnce(ctx context.Context) int {
	if c.servers == nil || c.credentials == nil {
		return 0
	}

	servers, err := c.servers.ListServers(ctx)
	if err != nil {
		c.logger.Warn("Failed to list servers for credential scan", zap.Error(err))
		return 0
	}

	now := c.now()
	launched := 0
	for _, server := range servers {
		if server.Kind != config.KindStreamableHTTP {
			continue
		}

		cred, err := c.credentials.Load(ctx, server.ID)
		if err != nil {
			if !errors.Is(err, ErrNoCredential) {
				c.logger.Warn("Failed to read stored credential",
					zap.String("server", server.ID),
					zap.Error(err))
			}
			continue
		}

		if !cred.HasRefreshToken() || !cred.ExpiresWithin(now, c.lookahead) {
			continue
		}

		c.logger.Info("Credential expiring soon, refreshing",
			zap.String("server", server.ID),
			zap.Time("expires_at", cred.ExpiresAt))

		launched++
		c.metrics.RecordScanLaunch()
		go func(server *config.ServerConfig, cred *Credential) {
			if _, err := c.Refresh(context.Background(), server, cred); err != nil {
				c.logRefreshFailure(server.ID, err)
			}
		}(server, cred)
	}

	return launched
}

// Refresh exchanges stored's refresh token for a new credential and persists it.
// Concurrent calls for the same server share one exchange and one result.
// Cancelling ctx abandons the wait, not the shared job.
func (c *Coordinator) Refresh(ctx context.Context, server *config.ServerConfig, stored *Credential) (*Credential, error) {
	c.mu.Lock()
	job, ok := c.jobs[server.ID]
	if ok {
		job.waiters++
		c.mu.Unlock()
		c.logger.Debug("Attached to in-flight refresh",
			zap.String("server", server.ID),
			zap.String("job_id", job.id))
	} else {
		if !stored.HasRefreshToken() || server.URL == "" {
			c.mu.Unlock()
			return nil, ErrMissingRefreshToken
		}
		job = &refreshJob{
			id:      ulid.Make().String(),
			done:    make(chan struct{}),
			waiters: 1,
		}
		c.jobs[server.ID] = job
		c.mu.Unlock()

		go c.run(job, server.Clone(), stored)
	}

	select {
	case <-job.done:
		return job.cred, job.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) run(job *refreshJob, server *config.ServerConfig, stored *Credential) {
	start := c.now()
	ctx, cancel := context.WithTimeout(context.Background(), refreshJobTimeout)
	defer cancel()

	ctx, span := c.tracing.TraceRefresh(ctx, server.ID, job.id)

	cred, err := c.exchange(ctx, server, stored)

	observability.EndSpan(span, err)
	c.metrics.RecordRefresh(server.ID, classifyRefreshError(err), c.now().Sub(start))

	if err == nil {
		c.logger.Info("Credential refreshed",
			zap.String("server", server.ID),
			zap.String("job_id", job.id),
			zap.Time("expires_at", cred.ExpiresAt))
	}

	c.mu.Lock()
	if c.jobs[server.ID] == job {
		delete(c.jobs, server.ID)
	}
	c.mu.Unlock()

	job.cred, job.err = cred, err
	close(job.done)
}

func (c *Coordinator) exchange(ctx context.Context, server *config.ServerConfig, stored *Credential) (*Credential, error) {
	meta, err := c.refresher.Discover(ctx, server.URL)
	if err != nil {
		return nil, err
	}

	cred, err := c.refresher.Exchange(ctx, meta, stored)
	if err != nil {
		return nil, err
	}
	cred.ClientID = stored.ClientID

	c.mu.Lock()
	persist := c.persist
	c.mu.Unlock()
	if persist != nil {
		if err := persist(ctx, server.ID, cred, stored.ClientID); err != nil {
			return nil, err
		}
	}
	return cred, nil
}

func (c *Coordinator) logRefreshFailure(serverID string, err error) {
	switch classifyRefreshError(err) {
	case RefreshResultInvalidGrant:
		c.logger.Error("Refresh token rejected, re-authentication required",
			zap.String("server", serverID),
			zap.Error(err))
	default:
		c.logger.Warn("Background credential refresh failed",
			zap.String("server", serverID),
			zap.Error(err))
	}
}

// inFlight reports whether a job exists for serverID and how many callers share it
func (c *Coordinator) inFlight(serverID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[serverID]
	if !ok {
		return 0, false
	}
	return job.waiters, true
}
