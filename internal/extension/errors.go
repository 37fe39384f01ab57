// Package extension unpacks and installs DXT extension bundles.
//
// A bundle is a zip archive with a manifest.json at its root. ProcessFile
// extracts it into a scratch directory; InstallServer moves the result into
// the per-server install directory with backup and restore on failure.
// Readers go through LoadInstalledManifest, which waits out an install in
// progress.
package extension

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors for bundle processing and installation.
var (
	// ErrTemporaryDirectoryCreationFailed indicates no scratch directory could be made.
	ErrTemporaryDirectoryCreationFailed = errors.New("failed to create temporary directory")

	// ErrInvalidZipFile indicates the archive could not be opened as a zip.
	ErrInvalidZipFile = errors.New("invalid zip file")

	// ErrFailedToExtract indicates an entry could not be written, or escaped the target.
	ErrFailedToExtract = errors.New("failed to extract archive")

	// ErrManifestNotFound indicates the archive has no manifest.json at its root.
	ErrManifestNotFound = errors.New("manifest.json not found")

	// ErrInvalidManifest indicates manifest.json is not valid or lacks required fields.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrInstallFailed indicates copying into the install directory failed.
	ErrInstallFailed = errors.New("failed to install extension")

	// ErrNotInstalled indicates the install directory does not exist.
	ErrNotInstalled = errors.New("extension not installed")
)
