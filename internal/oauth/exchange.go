package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const defaultHTTPTimeout = 30 * time.Second

// Refresher performs metadata discovery and the refresh_token grant
type Refresher interface {
	Discover(ctx context.Context, serverURL string) (*ServerMetadata, error)
	Exchange(ctx context.Context, meta *ServerMetadata, stored *Credential) (*Credential, error)
}

// HTTPRefresher is the network implementation of Refresher
type HTTPRefresher struct {
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewHTTPRefresher creates a refresher; a nil client gets a 30s timeout client
func NewHTTPRefresher(client *http.Client, logger *zap.Logger) *HTTPRefresher {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &HTTPRefresher{
		client: client,
		logger: logger.Named("oauth-exchange"),
		now:    time.Now,
	}
}

// Discover resolves the authorization server metadata for serverURL
func (r *HTTPRefresher) Discover(ctx context.Context, serverURL string) (*ServerMetadata, error) {
	return discoverMetadata(ctx, r.client, r.logger, serverURL)
}

// Exchange trades the stored refresh token for a new credential.
// A response without a new refresh token keeps the old one.
func (r *HTTPRefresher) Exchange(ctx context.Context, meta *ServerMetadata, stored *Credential) (*Credential, error) {
	if !stored.HasRefreshToken() {
		return nil, ErrMissingRefreshToken
	}
	if meta == nil || meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: no token endpoint", ErrDiscoveryFailed)
	}

	conf := &oauth2.Config{
		ClientID: stored.ClientID,
		Scopes:   stored.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	// An empty access token forces the source to refresh.
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	cred := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scopes:       stored.Scopes,
		ClientID:     stored.ClientID,
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		cred.Scopes = strings.Fields(scope)
	}

	switch {
	case token.ExpiresIn > 0:
		cred.ExpiresAt = r.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	case !token.Expiry.IsZero():
		cred.ExpiresAt = token.Expiry
	default:
		if exp, ok := ExpiryFromJWT(token.AccessToken); ok {
			cred.ExpiresAt = exp
		}
	}

	r.logger.Debug("Refresh grant completed",
		zap.String("token_endpoint", meta.TokenEndpoint),
		zap.Bool("rotated", token.RefreshToken != stored.RefreshToken),
		zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}
