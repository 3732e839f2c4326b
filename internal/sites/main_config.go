package sites

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// MainConfig gives access to the proxy's own configuration files, such as
// nginx.conf, kept in a flat directory outside the unit root.
type MainConfig struct {
	fs     afero.Fs
	dir    string
	codec  Codec
	logger *slog.Logger
}

// NewMainConfig returns a store over the files directly inside dir.
func NewMainConfig(fsys afero.Fs, dir string, codec Codec, logger *slog.Logger) *MainConfig {
	if fsys == nil {
		fsys = NewOSFileSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MainConfig{fs: fsys, dir: filepath.Clean(dir), codec: codec, logger: logger}
}

// Dir returns the directory holding the files.
func (c *MainConfig) Dir() string {
	return c.dir
}

// Names lists the regular files in the directory, sorted.
func (c *MainConfig) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return nil, opError("config list", "", fmt.Errorf("%w: %w", ErrIO, err))
	}
	var names []string
	for _, entry := range entries {
		if entry.Mode().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the body of the named file.
func (c *MainConfig) Read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := c.path(name)
	if err != nil {
		return "", opError("config read", name, err)
	}
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		if isNotExist(err) {
			return "", opError("config read", name, ErrNotFound)
		}
		return "", opError("config read", name, fmt.Errorf("%w: %w", ErrIO, err))
	}
	return string(data), nil
}

// Write replaces or creates the named file. Symlinks are refused because the
// rename would replace the link rather than its target.
func (c *MainConfig) Write(ctx context.Context, name, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := c.path(name)
	if err != nil {
		return opError("config write", name, err)
	}

	info, err := lstat(c.fs, path)
	switch {
	case err == nil && info.Mode()&fs.ModeSymlink != 0:
		return opError("config write", name, fmt.Errorf("%w: %s is a symlink", ErrInvalidIdentifier, name))
	case err == nil && !info.Mode().IsRegular():
		return opError("config write", name, fmt.Errorf("%w: %s is not a regular file", ErrInvalidIdentifier, name))
	case err != nil && !isNotExist(err):
		return opError("config write", name, fmt.Errorf("%w: %w", ErrIO, err))
	}

	if err := writeFileAtomic(c.fs, path, []byte(content), filePerm(info), createOrReplace); err != nil {
		return opError("config write", name, fmt.Errorf("%w: %w", ErrIO, err))
	}
	c.logger.Info("Wrote proxy config file", "name", name, "dir", c.dir, "bytes", len(content))
	return nil
}

// path accepts a single plain file name; anything the codec would split or
// reject as escaping is refused.
func (c *MainConfig) path(name string) (string, error) {
	segments, err := c.codec.Decode(name)
	if err != nil {
		return "", err
	}
	if len(segments) != 1 {
		return "", fmt.Errorf("%w: %q names a nested path", ErrInvalidIdentifier, name)
	}
	return filepath.Join(c.dir, segments[0]), nil
}
