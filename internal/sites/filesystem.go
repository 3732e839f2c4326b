package sites

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
)

const (
	defaultFilePerm fs.FileMode = 0o644
	defaultDirPerm  fs.FileMode = 0o755
)

// NewOSFileSystem returns the filesystem backed by the local disk.
func NewOSFileSystem() afero.Fs {
	return afero.NewOsFs()
}

// lstat avoids following symlinks when the filesystem supports it.
func lstat(fsys afero.Fs, name string) (fs.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fsys.Stat(name)
}

// pathExists reports whether anything, including a dangling symlink, sits at name.
func pathExists(fsys afero.Fs, name string) (bool, error) {
	_, err := lstat(fsys, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

type writeMode int

const (
	// createOnly refuses to replace an existing file.
	createOnly writeMode = iota
	// replaceOnly refuses to write when the file has disappeared.
	replaceOnly
	// createOrReplace writes whether or not the file exists.
	createOrReplace
)

// writeFileAtomic writes data to a sibling temporary file and renames it onto
// name so readers never observe a partial body. The destination is checked
// again right before the rename so a concurrent create or rename is not
// clobbered.
func writeFileAtomic(fsys afero.Fs, name string, data []byte, perm fs.FileMode, mode writeMode) error {
	dir := filepath.Dir(name)
	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = fsys.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fsys.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	exists, err := pathExists(fsys, name)
	if err != nil {
		cleanup()
		return fmt.Errorf("stat destination: %w", err)
	}
	switch {
	case mode == createOnly && exists:
		cleanup()
		return fmt.Errorf("destination %s: %w", filepath.Base(name), fs.ErrExist)
	case mode == replaceOnly && !exists:
		cleanup()
		return fmt.Errorf("destination %s: %w", filepath.Base(name), fs.ErrNotExist)
	}
	if err := fsys.Rename(tmpName, name); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// filePerm keeps the permission bits of an existing file.
func filePerm(info fs.FileInfo) fs.FileMode {
	if info == nil {
		return defaultFilePerm
	}
	perm := info.Mode().Perm()
	if perm == 0 {
		return defaultFilePerm
	}
	return perm
}

// isNotExist also treats a file standing in for a parent directory as absent.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR)
}
