package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/extension"
	"github.com/smart-mcp-proxy/mcpctx/internal/storage"
)

type extInstallOptions struct {
	serverID string
	values   map[string]string
	force    bool
}

func newExtCommand() *cobra.Command {
	extCmd := &cobra.Command{
		Use:   "ext",
		Short: "Install and inspect extension bundles",
	}

	opts := &extInstallOptions{}
	installCmd := &cobra.Command{
		Use:   "install <archive.dxt>",
		Short: "Install an extension bundle as a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				return runExtInstall(cmd.Context(), a, args[0], opts)
			})
		},
	}
	installCmd.Flags().StringVar(&opts.serverID, "id", "", "Server id (defaults to the manifest name)")
	installCmd.Flags().StringToStringVar(&opts.values, "set", nil, "User configuration value as key=value (repeatable)")
	installCmd.Flags().BoolVar(&opts.force, "force", false, "Reinstall even if the installed version is not older")
	extCmd.AddCommand(installCmd)

	extCmd.AddCommand(&cobra.Command{
		Use:   "version <id>",
		Short: "Print the installed version of an extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				return runExtVersion(cmd.Context(), a, args[0])
			})
		},
	})

	return extCmd
}

func runExtInstall(ctx context.Context, a *app, archivePath string, opts *extInstallOptions) error {
	result, err := a.installer.ProcessFile(ctx, archivePath)
	if err != nil {
		return err
	}

	record, err := installProcessed(ctx, a, result, opts)
	if err != nil {
		if a.installer.CleanupTempDirectory(result.TempDir) {
			a.logger.Debug("Removed extraction directory", zap.String("path", result.TempDir))
		}
		return err
	}

	return printRecord(map[string]string{
		"id":           record.ID,
		"name":         record.DisplayName(),
		"version":      result.Manifest.Version,
		"install_path": record.InstallPath,
	})
}

// installProcessed installs an extracted bundle and stores its record. On
// success the extraction directory has been consumed by the installer.
func installProcessed(ctx context.Context, a *app, result *extension.ProcessResult, opts *extInstallOptions) (*config.ServerConfig, error) {
	manifest := result.Manifest
	serverID := opts.serverID
	if serverID == "" {
		serverID = manifest.Name
	}

	mode := extension.ModeInstall
	existing, err := a.store.GetServer(ctx, serverID)
	switch {
	case err == nil:
		if existing.Kind != config.KindDXT {
			return nil, output.InstallFailed("server %q exists and is not an extension", serverID).ForServer(serverID)
		}
		installed, _ := a.installer.GetInstalledVersion(existing)
		if !opts.force && !extension.IsUpdate(installed, manifest.Version) {
			return nil, output.InstallFailed("%s %s is already installed", serverID, installed).
				ForServer(serverID).
				WithGuidance("Pass --force to reinstall the same or an older version")
		}
		mode = extension.ModeUpdate
	case !errors.Is(err, storage.ErrServerNotFound):
		return nil, err
	}

	userConfig, err := a.installer.StoreUserConfig(ctx, manifest, opts.values)
	if err != nil {
		return nil, err
	}

	installDir, err := a.installer.InstallServer(ctx, result.TempDir, serverID, mode)
	if err != nil {
		a.installer.DiscardUserConfig(ctx, userConfig)
		return nil, err
	}

	record := a.installer.CreateServerRecord(manifest, serverID, installDir)
	record.UserConfig = userConfig
	if existing != nil {
		record.Created = existing.Created
		record.Enabled = existing.Enabled
	}
	if err := a.store.UpdateServer(ctx, record); err != nil {
		a.installer.DiscardUserConfig(ctx, userConfig)
		return nil, fmt.Errorf("failed to store server %s: %w", serverID, err)
	}

	a.logger.Debug("Stored extension server record",
		zap.String("server", serverID),
		zap.String("version", manifest.Version),
		zap.String("mode", string(mode)))
	return record, nil
}

func runExtVersion(ctx context.Context, a *app, id string) error {
	server, err := a.server(ctx, id)
	if err != nil {
		return err
	}

	version, ok := a.installer.GetInstalledVersion(server)
	if !ok {
		return output.OperationFailed("no installed manifest for %s", id).ForServer(id)
	}
	return printRecord(map[string]string{"id": id, "version": version})
}
