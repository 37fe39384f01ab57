package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"
)

// ServerMetadata represents RFC 8414 OAuth Authorization Server Metadata
type ServerMetadata = mcptransport.AuthServerMetadata

// discoverMetadata finds the token endpoint for an MCP server URL.
// The resource is asked for its authorization server (RFC 9728), whose RFC 8414
// or OIDC metadata is then read. Without either, mcp-go's default endpoints
// on the server origin are used.
func discoverMetadata(ctx context.Context, httpClient *http.Client, logger *zap.Logger, serverURL string) (*ServerMetadata, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid server url %q", ErrDiscoveryFailed, serverURL)
	}
	origin := u.Scheme + "://" + u.Host

	handler := mcptransport.NewOAuthHandler(mcptransport.OAuthConfig{
		HTTPClient: httpClient,
	})
	handler.SetBaseURL(origin)

	meta, err := handler.GetServerMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrDiscoveryFailed, origin, err)
	}
	if meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w for %s: metadata has no token_endpoint", ErrDiscoveryFailed, origin)
	}

	logger.Debug("Discovered authorization server",
		zap.String("server_url", serverURL),
		zap.String("issuer", meta.Issuer),
		zap.String("token_endpoint", meta.TokenEndpoint))
	return meta, nil
}
