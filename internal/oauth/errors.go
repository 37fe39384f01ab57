// Package oauth keeps stored OAuth credentials fresh for streamable HTTP servers.
package oauth

import (
	"errors"
	"strings"
)

var (
	// ErrMissingRefreshToken indicates a refresh was requested for a credential
	// without a refresh token, or for a server without a URL.
	ErrMissingRefreshToken = errors.New("missing refresh token")

	// ErrNoCredential indicates nothing is stored for the server.
	ErrNoCredential = errors.New("no stored credential")

	// ErrRefreshFailed indicates the token endpoint rejected the exchange.
	ErrRefreshFailed = errors.New("OAuth token refresh failed")

	// ErrDiscoveryFailed indicates no token endpoint could be found.
	ErrDiscoveryFailed = errors.New("OAuth metadata discovery failed")
)

// Refresh result classes used in logs and metrics
const (
	RefreshResultSuccess      = "success"
	RefreshResultInvalidGrant = "failed_invalid_grant"
	RefreshResultNetwork      = "failed_network"
	RefreshResultOther        = "failed_other"
)

// classifyRefreshError categorizes a refresh error for metrics and log levels.
// invalid_grant is permanent and needs re-authentication; network errors heal.
func classifyRefreshError(err error) string {
	if err == nil {
		return RefreshResultSuccess
	}

	errStr := err.Error()

	for _, pattern := range []string{
		"invalid_grant",
		"refresh token expired",
		"refresh token revoked",
		"refresh token invalid",
	} {
		if containsIgnoreCase(errStr, pattern) {
			return RefreshResultInvalidGrant
		}
	}

	for _, pattern := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"dial tcp",
		"network",
		"EOF",
		"context deadline exceeded",
	} {
		if containsIgnoreCase(errStr, pattern) {
			return RefreshResultNetwork
		}
	}

	return RefreshResultOther
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
