package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/extension"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
)

const fieldInstallPath = "install_path"

var placeholderRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// buildBundle launches an installed extension bundle as a stdio server.
// User config secret references are resolved from the secret store; any that
// no longer exist are removed from the stored record before reporting the
// first missing field.
func (f *Factory) buildBundle(ctx context.Context, server *config.ServerConfig) (Transport, error) {
	if server.InstallPath == "" {
		return nil, &MissingConfigurationError{Field: fieldInstallPath}
	}

	manifest, err := extension.LoadInstalledManifest(server.InstallPath)
	if errors.Is(err, extension.ErrNotInstalled) {
		return nil, &MissingConfigurationError{Field: fieldInstallPath}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read extension manifest for %s: %w", server.ID, err)
	}

	values, missing, err := f.resolveUserConfig(ctx, server)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		f.stripMissing(ctx, server, missing)
		return nil, &MissingConfigurationError{Field: missing[0]}
	}

	for _, name := range manifest.FieldNames() {
		if _, ok := values[name]; ok {
			continue
		}
		field := manifest.UserConfig[name]
		if def, ok := field.DefaultValue(); ok {
			values[name] = def
			continue
		}
		if field.Required {
			return nil, &MissingConfigurationError{Field: name}
		}
	}

	launch := manifest.Server.MCPConfig
	expand := func(s string) string { return expandPlaceholders(s, server.InstallPath, values) }

	args := make([]string, len(launch.Args))
	for i, arg := range launch.Args {
		args[i] = expand(arg)
	}
	env := make(map[string]string, len(launch.Env)+len(server.Env))
	for k, v := range launch.Env {
		env[k] = expand(v)
	}
	for k, v := range server.Env {
		env[k] = v
	}

	f.logger.Debug("Resolved extension launch command",
		zap.String("server", server.ID),
		zap.String("extension", manifest.Name),
		zap.String("version", manifest.Version),
		zap.Int("user_config_fields", len(values)))

	return f.buildStdio(expand(launch.Command), args, env, server.ID, config.KindDXT)
}

// resolveUserConfig returns literal values plus resolved secrets, and the
// names of fields whose referenced secret is gone.
func (f *Factory) resolveUserConfig(ctx context.Context, server *config.ServerConfig) (map[string]string, []string, error) {
	values := make(map[string]string, len(server.UserConfig))
	var missing []string

	for name, raw := range server.UserConfig {
		if !secret.IsRef(raw) {
			values[name] = raw
			continue
		}

		ref, err := secret.ParseRef(raw)
		if err != nil {
			return nil, nil, err
		}
		if f.secrets == nil {
			missing = append(missing, name)
			continue
		}

		data, err := f.secrets.Get(ctx, ref.Name)
		if errors.Is(err, secret.ErrNotFound) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve secret for field %s: %w", name, err)
		}

		value := string(data)
		if f.sanitizer != nil {
			f.sanitizer.RegisterResolvedSecret(value)
		}
		values[name] = value
	}

	return values, missing, nil
}

// stripMissing removes fields that point at deleted secrets from the stored record
func (f *Factory) stripMissing(ctx context.Context, server *config.ServerConfig, missing []string) {
	f.logger.Warn("Extension configuration references missing secrets",
		zap.String("server", server.ID),
		zap.Strings("fields", missing))

	if f.servers == nil {
		return
	}

	updated := server.Clone()
	for _, name := range missing {
		delete(updated.UserConfig, name)
	}
	if err := f.servers.UpdateServer(ctx, updated); err != nil {
		f.logger.Error("Failed to remove missing secret references from server record",
			zap.String("server", server.ID),
			zap.Error(err))
		return
	}
	f.metrics.RecordSecretsStripped(len(missing))
}

// expandPlaceholders substitutes ${__dirname}, ${user_config.<key>}, ${HOME}
// and ${/}. Unknown placeholders are left as written.
func expandPlaceholders(s, dir string, values map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		switch {
		case key == "__dirname":
			return dir
		case key == "/" || key == "pathSeparator":
			return string(filepath.Separator)
		case key == "HOME":
			if home, err := os.UserHomeDir(); err == nil {
				return home
			}
		case strings.HasPrefix(key, "user_config."):
			if v, ok := values[strings.TrimPrefix(key, "user_config.")]; ok {
				return v
			}
		}
		return match
	})
}
