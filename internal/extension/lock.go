package extension

import (
	"os"

	"github.com/cockroachdb/errors"
)

// dirLock is an advisory lock held on a file next to the install directory.
// InstallServer holds it exclusively while it replaces the directory; readers
// hold it shared while loading from the directory.
type dirLock struct {
	file *os.File
}

func lockPath(installDir string) string {
	return installDir + ".lock"
}

// acquireDirLock blocks until the exclusive lock for installDir is held
func acquireDirLock(installDir string) (*dirLock, error) {
	return openDirLock(installDir, true)
}

// acquireSharedDirLock blocks while a writer holds the lock for installDir
func acquireSharedDirLock(installDir string) (*dirLock, error) {
	return openDirLock(installDir, false)
}

func openDirLock(installDir string, exclusive bool) (*dirLock, error) {
	f, err := os.OpenFile(lockPath(installDir), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "opening lock file")
	}
	if err := lockFile(f, exclusive); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "locking install directory")
	}
	return &dirLock{file: f}, nil
}

func (l *dirLock) release() error {
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
