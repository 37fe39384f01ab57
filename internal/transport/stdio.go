package transport

import (
	"runtime"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
)

const (
	osWindows    = "windows"
	defaultShell = "/bin/sh"
	windowsShell = "cmd.exe"
)

// wrapCommandInShell runs command through the user's login shell so the
// child sees the same PATH and profile an interactive terminal would.
func wrapCommandInShell(shell, command string, args []string) (shellCmd string, shellArgs []string) {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellescape.Quote(command))
	for _, arg := range args {
		parts = append(parts, shellescape.Quote(arg))
	}
	fullCmd := strings.Join(parts, " ")

	if runtime.GOOS == osWindows {
		return windowsShell, []string{"/c", fullCmd}
	}
	if shell == "" {
		shell = defaultShell
	}
	return shell, []string{"-l", "-c", fullCmd}
}

// buildStdio creates a subprocess transport. Per-server env overrides the
// inherited environment.
func (f *Factory) buildStdio(command string, args []string, env map[string]string, serverID, kind string) (Transport, error) {
	if command == "" {
		return nil, ErrMissingCommand
	}

	shell, _ := f.env.GetSystemEnvVar("SHELL")
	shellCmd, shellArgs := wrapCommandInShell(shell, command, args)
	envVars := f.env.Merge(env)

	f.logger.Debug("Built stdio transport",
		zap.String("server", serverID),
		zap.String("shell", shellCmd),
		zap.Strings("shell_args", shellArgs),
		zap.Int("env_count", len(envVars)))

	stdio := mcptransport.NewStdio(shellCmd, envVars, shellArgs...)
	return &mcpTransport{
		kind:     kind,
		info:     f.clientInfo,
		mcp:      client.NewClient(stdio),
		detached: true,
		launch:   append([]string{shellCmd}, shellArgs...),
	}, nil
}

func (f *Factory) buildStdioServer(server *config.ServerConfig) (Transport, error) {
	return f.buildStdio(server.Command, server.Args, server.Env, server.ID, config.KindStdio)
}
