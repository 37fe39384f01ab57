package extension

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// maxEntrySize bounds a single decompressed file
	maxEntrySize = 512 << 20
	dirPerm      = 0o755
)

// extractZip unpacks archivePath into dest. Entries that would land outside
// dest are rejected.
func extractZip(archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		reader.Close()
		return errors.Mark(errors.Wrap(err, "archive has entries outside its root"), ErrFailedToExtract)
	}
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "opening %s", filepath.Base(archivePath)), ErrInvalidZipFile)
	}
	defer reader.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return errors.Mark(err, ErrFailedToExtract)
	}

	for _, file := range reader.File {
		if err := extractEntry(file, root); err != nil {
			return errors.Mark(errors.Wrapf(err, "extracting %s", file.Name), ErrFailedToExtract)
		}
	}
	return nil
}

func extractEntry(file *zip.File, root string) error {
	target, err := safeJoin(root, file.Name)
	if err != nil {
		return err
	}

	mode := file.Mode()
	switch {
	case mode.IsDir():
		return os.MkdirAll(target, dirPerm)
	case mode&os.ModeSymlink != 0:
		return errors.Newf("symlink entries are not supported")
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	n, err := io.Copy(dst, io.LimitReader(src, maxEntrySize+1))
	if err != nil {
		dst.Close()
		return err
	}
	if n > maxEntrySize {
		dst.Close()
		return errors.Newf("entry exceeds %d bytes", maxEntrySize)
	}
	return dst.Close()
}

// safeJoin resolves name under root and refuses anything that escapes it
func safeJoin(root, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", errors.Newf("illegal entry path %q", name)
	}

	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf("entry %q escapes the extraction directory", name)
	}
	return target, nil
}
