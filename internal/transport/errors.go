package transport

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
)

var (
	// ErrMissingCommand indicates a stdio server without a command
	ErrMissingCommand = errors.New("no command specified for stdio transport")

	// ErrInvalidURL indicates a streamable HTTP server without an absolute http(s) URL
	ErrInvalidURL = errors.New("invalid server URL")

	// ErrAuthorizationRequired indicates the server answered 401
	ErrAuthorizationRequired = errors.New("authorization required")
)

// UnsupportedTransportError is returned for an unknown server kind
type UnsupportedTransportError struct {
	Kind string
}

func (e *UnsupportedTransportError) Error() string {
	return fmt.Sprintf("unsupported transport kind %q", e.Kind)
}

// MissingConfigurationError names the first configuration field that has no usable value
type MissingConfigurationError struct {
	Field string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Field)
}

// IsAuthorizationRequired reports whether a connect error means the server wants credentials
func IsAuthorizationRequired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAuthorizationRequired) ||
		errors.Is(err, mcptransport.ErrUnauthorized) ||
		errors.Is(err, mcptransport.ErrOAuthAuthorizationRequired) ||
		client.IsOAuthAuthorizationRequiredError(err)
}
