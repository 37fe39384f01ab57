package main

import (
	"github.com/cockroachdb/errors"

	"github.com/smart-mcp-proxy/mcpctx/internal/cli/output"
)

const (
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodeNotFound indicates the named server does not exist
	ExitCodeNotFound = 2

	// ExitCodeAuthRequired indicates the server needs a new credential
	ExitCodeAuthRequired = 3

	// ExitCodeMissingConfiguration indicates an extension lacks a required value
	ExitCodeMissingConfiguration = 4
)

func exitCodeFor(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var se output.StructuredError
	if !errors.As(err, &se) {
		return ExitCodeGeneralError
	}
	switch se.Code {
	case output.CodeServerNotFound:
		return ExitCodeNotFound
	case output.CodeAuthRequired:
		return ExitCodeAuthRequired
	case output.CodeMissingConfiguration:
		return ExitCodeMissingConfiguration
	default:
		return ExitCodeGeneralError
	}
}
