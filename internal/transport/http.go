package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/logs"
	"github.com/smart-mcp-proxy/mcpctx/internal/oauth"
)

const defaultHTTPTimeout = 180 * time.Second

// bearerRoundTripper injects the current access token into every request.
// The token can be replaced or cleared while the connection is live.
type bearerRoundTripper struct {
	base         http.RoundTripper
	token        atomic.Value
	unauthorized atomic.Bool
}

func newBearerRoundTripper(base http.RoundTripper, token string) *bearerRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := &bearerRoundTripper{base: base}
	rt.token.Store(token)
	return rt
}

// Set replaces the bearer token
func (rt *bearerRoundTripper) Set(token string) {
	rt.token.Store(token)
	rt.unauthorized.Store(false)
}

// Clear removes the bearer token
func (rt *bearerRoundTripper) Clear() {
	rt.Set("")
}

// Token returns the current bearer token
func (rt *bearerRoundTripper) Token() string {
	token, _ := rt.token.Load().(string)
	return token
}

func (rt *bearerRoundTripper) sawUnauthorized() bool {
	return rt.unauthorized.Load()
}

func (rt *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if token := rt.Token(); token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := rt.base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		rt.unauthorized.Store(true)
	}
	return resp, err
}

// validateURL requires an absolute http or https URL
func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// buildHTTP creates a streamable HTTP transport with custom headers and the
// stored bearer token. An expired stored credential is deleted, not attached.
func (f *Factory) buildHTTP(ctx context.Context, server *config.ServerConfig) (Transport, error) {
	if err := validateURL(server.URL); err != nil {
		return nil, err
	}

	token := f.usableAccessToken(ctx, server.ID)

	var base http.RoundTripper = http.DefaultTransport
	if f.traceHTTP {
		base = NewLoggingTransport(base, f.logger)
	}
	bearer := newBearerRoundTripper(base, token)

	opts := []mcptransport.StreamableHTTPCOption{
		mcptransport.WithHTTPBasicClient(&http.Client{
			Timeout:   f.httpTimeout,
			Transport: bearer,
		}),
	}
	if len(server.Headers) > 0 {
		f.logger.Debug("Adding HTTP headers",
			zap.String("server", server.ID),
			zap.Int("header_count", len(server.Headers)))
		opts = append(opts, mcptransport.WithHTTPHeaders(server.Headers))
	}

	streamTransport, err := mcptransport.NewStreamableHTTP(server.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP transport: %w", err)
	}

	f.logger.Debug("Built streamable HTTP transport",
		zap.String("server", server.ID),
		zap.String("url", server.URL),
		zap.Bool("has_bearer", token != ""))

	return &httpTransport{&mcpTransport{
		kind:   config.KindStreamableHTTP,
		info:   f.clientInfo,
		mcp:    client.NewClient(streamTransport),
		bearer: bearer,
	}}, nil
}

// usableAccessToken returns the stored access token if it has not expired.
// Expired credentials are removed from the secret store.
func (f *Factory) usableAccessToken(ctx context.Context, serverID string) string {
	if f.credentials == nil {
		return ""
	}

	cred, err := f.credentials.Load(ctx, serverID)
	if err != nil {
		if !errors.Is(err, oauth.ErrNoCredential) {
			f.logger.Warn("Failed to read stored credential",
				zap.String("server", serverID),
				zap.Error(err))
		}
		return ""
	}

	if cred.IsExpired(f.now()) {
		f.logger.Info("Deleting expired credential",
			zap.String("server", serverID),
			zap.Time("expired_at", cred.ExpiresAt),
			zap.Bool("had_refresh_token", cred.HasRefreshToken()))
		if err := f.credentials.Delete(ctx, serverID); err != nil {
			f.logger.Warn("Failed to delete expired credential",
				zap.String("server", serverID),
				zap.Error(err))
		}
		return ""
	}

	f.logger.Debug("Attaching stored bearer token",
		zap.String("server", serverID),
		zap.String("token", logs.MaskToken(cred.AccessToken)))
	return cred.AccessToken
}
