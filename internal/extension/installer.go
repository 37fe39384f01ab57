package extension

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/observability"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
)

const (
	tempPrefix   = "mcpctx-dxt-"
	backupSuffix = ".backup"
)

// Mode is the reason for an install
type Mode string

const (
	ModeInstall Mode = "install"
	ModeUpdate  Mode = "update"
	// ModeEdit re-saves a server; tempDir may already be the install directory
	ModeEdit Mode = "edit"
)

// ProcessResult is a bundle extracted into a scratch directory
type ProcessResult struct {
	TempDir            string
	Manifest           *Manifest
	ManifestData       []byte
	RequiresUserConfig bool
}

// InstallerConfig wires an Installer
type InstallerConfig struct {
	// InstallRoot holds one directory per installed server
	InstallRoot string
	// TempRoot is where extractions are created; defaults to os.TempDir()
	TempRoot string
	// AllowedTempRoots bounds CleanupTempDirectory; defaults to TempRoot and os.TempDir()
	AllowedTempRoots []string
	Secrets          secret.Store
	Metrics          *observability.MetricsManager
	Tracing          *observability.TracingManager
}

// Installer extracts and installs extension bundles
type Installer struct {
	installRoot  string
	tempRoot     string
	allowedRoots []string
	secrets      secret.Store
	metrics      *observability.MetricsManager
	tracing      *observability.TracingManager
	logger       *zap.Logger

	copyTree func(src, dst string) error
}

// NewInstaller creates an installer
func NewInstaller(cfg InstallerConfig, logger *zap.Logger) *Installer {
	if logger == nil {
		logger = zap.L()
	}
	tempRoot := cfg.TempRoot
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	roots := cfg.AllowedTempRoots
	if len(roots) == 0 {
		roots = []string{tempRoot, os.TempDir()}
	}

	return &Installer{
		installRoot:  cfg.InstallRoot,
		tempRoot:     tempRoot,
		allowedRoots: normalizeRoots(roots),
		secrets:      cfg.Secrets,
		metrics:      cfg.Metrics,
		tracing:      cfg.Tracing,
		logger:       logger.Named("extension-installer"),
		copyTree:     copyDir,
	}
}

// InstallDir is the deterministic install location for serverID
func (i *Installer) InstallDir(serverID string) string {
	return filepath.Join(i.installRoot, serverID)
}

// ProcessFile extracts the archive into a fresh scratch directory and reads
// its manifest. The scratch directory is removed if anything fails.
func (i *Installer) ProcessFile(ctx context.Context, archivePath string) (*ProcessResult, error) {
	if err := os.MkdirAll(i.tempRoot, dirPerm); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "creating temp root"), ErrTemporaryDirectoryCreationFailed)
	}
	tempDir, err := os.MkdirTemp(i.tempRoot, tempPrefix)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "creating extraction directory"), ErrTemporaryDirectoryCreationFailed)
	}

	result, err := i.process(ctx, archivePath, tempDir)
	if err != nil {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			i.logger.Warn("Failed to remove extraction directory",
				zap.String("path", tempDir),
				zap.Error(rmErr))
		}
		i.logger.Warn("Failed to process extension bundle",
			zap.String("archive", archivePath),
			zap.Error(err))
		return nil, err
	}

	i.logger.Info("Extension bundle extracted",
		zap.String("name", result.Manifest.Name),
		zap.String("version", result.Manifest.Version),
		zap.String("temp_dir", tempDir),
		zap.Bool("requires_user_config", result.RequiresUserConfig))
	return result, nil
}

func (i *Installer) process(ctx context.Context, archivePath, tempDir string) (*ProcessResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := extractZip(archivePath, tempDir); err != nil {
		return nil, err
	}

	manifest, data, err := LoadManifest(tempDir)
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		TempDir:            tempDir,
		Manifest:           manifest,
		ManifestData:       data,
		RequiresUserConfig: manifest.RequiresUserConfig(),
	}, nil
}

// InstallServer replaces the install directory for serverID with the
// contents of tempDir. An existing install is moved aside first and put
// back if the copy fails. The scratch directory is removed either way.
func (i *Installer) InstallServer(ctx context.Context, tempDir, serverID string, mode Mode) (installDir string, err error) {
	if err := validateServerID(serverID); err != nil {
		return "", err
	}
	installDir = i.InstallDir(serverID)

	if samePath(tempDir, installDir) {
		i.logger.Debug("Bundle already in place, nothing to install",
			zap.String("server", serverID),
			zap.String("mode", string(mode)))
		return installDir, nil
	}

	_, span := i.tracing.TraceInstall(ctx, serverID)
	defer func() {
		observability.EndSpan(span, err)
		if err != nil {
			i.metrics.RecordInstall(observability.StatusError)
		} else {
			i.metrics.RecordInstall(observability.StatusSuccess)
		}
	}()

	if err := os.MkdirAll(i.installRoot, dirPerm); err != nil {
		return "", errors.Wrap(err, "creating install root")
	}

	lock, err := acquireDirLock(installDir)
	if err != nil {
		return "", err
	}
	defer func() {
		if relErr := lock.release(); relErr != nil {
			i.logger.Warn("Failed to release install lock", zap.String("server", serverID), zap.Error(relErr))
		}
	}()

	backupDir := installDir + backupSuffix
	hadBackup := false
	if _, statErr := os.Stat(installDir); statErr == nil {
		if err := os.RemoveAll(backupDir); err != nil {
			return "", errors.Wrap(err, "removing stale backup")
		}
		if err := os.Rename(installDir, backupDir); err != nil {
			return "", errors.Wrap(err, "moving existing install aside")
		}
		hadBackup = true
	}

	if copyErr := i.copyTree(tempDir, installDir); copyErr != nil {
		i.restore(serverID, installDir, backupDir, hadBackup)
		i.CleanupTempDirectory(tempDir)
		i.logger.Error("Extension install failed",
			zap.String("server", serverID),
			zap.String("mode", string(mode)),
			zap.Bool("restored_previous", hadBackup),
			zap.Error(copyErr))
		return "", errors.Mark(errors.Wrapf(copyErr, "copying into %s", installDir), ErrInstallFailed)
	}

	if hadBackup {
		if err := os.RemoveAll(backupDir); err != nil {
			i.logger.Warn("Failed to remove backup", zap.String("path", backupDir), zap.Error(err))
		}
	}
	i.CleanupTempDirectory(tempDir)

	i.logger.Info("Extension installed",
		zap.String("server", serverID),
		zap.String("mode", string(mode)),
		zap.String("install_dir", installDir))
	return installDir, nil
}

// restore removes a partial install and moves the backup back into place
func (i *Installer) restore(serverID, installDir, backupDir string, hadBackup bool) {
	if err := os.RemoveAll(installDir); err != nil {
		i.logger.Error("Failed to remove partial install", zap.String("server", serverID), zap.Error(err))
	}
	if !hadBackup {
		return
	}
	if err := os.Rename(backupDir, installDir); err != nil {
		i.logger.Error("Failed to restore previous install",
			zap.String("server", serverID),
			zap.String("backup", backupDir),
			zap.Error(err))
	}
}

// CreateServerRecord maps an installed bundle to a server configuration
func (i *Installer) CreateServerRecord(manifest *Manifest, serverID, installPath string) *config.ServerConfig {
	return &config.ServerConfig{
		ID:          serverID,
		Name:        manifest.Title(),
		Kind:        config.KindDXT,
		InstallPath: installPath,
		UserConfig:  map[string]string{},
		Enabled:     true,
	}
}

// GetInstalledVersion reads the version from the installed manifest.
// Any failure reports false.
func (i *Installer) GetInstalledVersion(server *config.ServerConfig) (string, bool) {
	if server == nil {
		return "", false
	}
	dir := server.InstallPath
	if dir == "" {
		if validateServerID(server.ID) != nil {
			return "", false
		}
		dir = i.InstallDir(server.ID)
	}

	manifest, err := LoadInstalledManifest(dir)
	if err != nil {
		i.logger.Debug("Installed version unavailable", zap.String("server", server.ID), zap.Error(err))
		return "", false
	}
	return manifest.Version, true
}

// LoadInstalledManifest reads the manifest of an install directory while
// holding the shared install lock, so a concurrent InstallServer is never
// seen half-way through its copy.
func LoadInstalledManifest(installDir string) (*Manifest, error) {
	if _, err := os.Stat(filepath.Dir(installDir)); err != nil {
		return nil, errors.Wrapf(ErrNotInstalled, "%s", installDir)
	}

	lock, err := acquireSharedDirLock(installDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.release() }()

	info, err := os.Stat(installDir)
	if err != nil || !info.IsDir() {
		return nil, errors.Wrapf(ErrNotInstalled, "%s", installDir)
	}
	manifest, _, err := LoadManifest(installDir)
	return manifest, err
}

// CleanupTempDirectory removes path if it lies strictly inside an allowed
// temp root. Other paths are left alone and false is returned.
func (i *Installer) CleanupTempDirectory(path string) bool {
	if !i.isAllowedTemp(path) {
		i.logger.Warn("Refusing to delete directory outside temp roots",
			zap.String("path", path),
			zap.Strings("allowed_roots", i.allowedRoots))
		return false
	}
	if err := os.RemoveAll(path); err != nil {
		i.logger.Warn("Failed to remove temp directory", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

func (i *Installer) isAllowedTemp(path string) bool {
	if path == "" {
		return false
	}
	for _, candidate := range pathVariants(path) {
		for _, root := range i.allowedRoots {
			if isStrictlyWithin(root, candidate) {
				return true
			}
		}
	}
	return false
}

func validateServerID(serverID string) error {
	if serverID == "" || serverID == "." || serverID == ".." ||
		strings.ContainsAny(serverID, `/\`) || filepath.Base(serverID) != serverID {
		return errors.Newf("invalid server id %q", serverID)
	}
	return nil
}

// normalizeRoots cleans roots and adds their symlink-resolved forms
func normalizeRoots(roots []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, root := range roots {
		for _, v := range pathVariants(root) {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func pathVariants(path string) []string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	variants := []string{abs}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil && resolved != abs {
		variants = append(variants, resolved)
	}
	return variants
}

func isStrictlyWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
