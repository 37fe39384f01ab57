package output

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/smart-mcp-proxy/mcpctx/internal/extension"
	"github.com/smart-mcp-proxy/mcpctx/internal/oauth"
	"github.com/smart-mcp-proxy/mcpctx/internal/transport"
)

// Code names a failure class. Scripts match on it and the exit status is
// derived from it.
type Code string

const (
	CodeServerNotFound       Code = "SERVER_NOT_FOUND"
	CodeInvalidOutputFormat  Code = "INVALID_OUTPUT_FORMAT"
	CodeAuthRequired         Code = "AUTH_REQUIRED"
	CodeMissingConfiguration Code = "MISSING_CONFIGURATION"
	CodeInstallFailed        Code = "INSTALL_FAILED"
	CodeOperationFailed      Code = "OPERATION_FAILED"
)

// StructuredError is a command failure in a form scripts can act on.
// Field is set for missing configuration, naming the value to supply.
type StructuredError struct {
	Code            Code   `json:"code" yaml:"code"`
	Message         string `json:"message" yaml:"message"`
	ServerID        string `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	Field           string `json:"field,omitempty" yaml:"field,omitempty"`
	Guidance        string `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	RecoveryCommand string `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`
}

func (e StructuredError) Error() string {
	return e.Message
}

func newError(code Code, format string, args ...interface{}) StructuredError {
	return StructuredError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ServerNotFound reports an id with no stored server record
func ServerNotFound(serverID string) StructuredError {
	e := newError(CodeServerNotFound, "server %q not found", serverID)
	e.ServerID = serverID
	e.RecoveryCommand = "mcpctx servers list"
	return e
}

// AuthRequired reports a server that needs a new credential
func AuthRequired(serverID, message string) StructuredError {
	e := newError(CodeAuthRequired, "%s", message)
	e.ServerID = serverID
	return e
}

// MissingConfiguration reports an extension field without a usable value
func MissingConfiguration(serverID, field string) StructuredError {
	e := newError(CodeMissingConfiguration, "missing configuration: %s", field)
	e.ServerID = serverID
	e.Field = field
	e.Guidance = "Provide the value with ext install --set " + field + "=... and reconnect"
	return e
}

// InstallFailed reports an extension that could not be installed
func InstallFailed(format string, args ...interface{}) StructuredError {
	return newError(CodeInstallFailed, format, args...)
}

// OperationFailed reports any other command failure
func OperationFailed(format string, args ...interface{}) StructuredError {
	return newError(CodeOperationFailed, format, args...)
}

// ForServer attaches the server the failure concerns
func (e StructuredError) ForServer(serverID string) StructuredError {
	e.ServerID = serverID
	return e
}

// WithGuidance adds guidance to the error.
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithRecoveryCommand adds a recovery command suggestion.
func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

var installErrors = []error{
	extension.ErrInstallFailed,
	extension.ErrInvalidZipFile,
	extension.ErrFailedToExtract,
	extension.ErrManifestNotFound,
	extension.ErrInvalidManifest,
	extension.ErrTemporaryDirectoryCreationFailed,
}

// Classify maps a lifecycle error to its failure class. A StructuredError
// anywhere in the chain is returned as is.
func Classify(err error) StructuredError {
	var se StructuredError
	if errors.As(err, &se) {
		return se
	}

	var missing *transport.MissingConfigurationError
	switch {
	case errors.As(err, &missing):
		e := MissingConfiguration("", missing.Field)
		e.Message = err.Error()
		return e
	case errors.Is(err, extension.ErrUserConfigRequired):
		return newError(CodeMissingConfiguration, "%s", err.Error()).
			WithGuidance("Pass the value with --set name=value")
	case transport.IsAuthorizationRequired(err):
		return newError(CodeAuthRequired, "%s", err.Error()).
			WithGuidance("The server rejected the stored credential")
	case errors.Is(err, oauth.ErrNoCredential):
		return newError(CodeAuthRequired, "%s", err.Error()).
			WithGuidance("Authorize the server before refreshing")
	}

	for _, target := range installErrors {
		if errors.Is(err, target) {
			return newError(CodeInstallFailed, "%s", err.Error())
		}
	}
	return newError(CodeOperationFailed, "%s", err.Error())
}
