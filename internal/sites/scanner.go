package sites

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Inventory is the result of one scan of the unit root.
type Inventory struct {
	// Units holds one record per identifier, ordered by identifier.
	Units []Unit
	// Shadowed lists files that lost to another file for the same identifier.
	Shadowed []string
	// Skipped lists files and directories whose names cannot be encoded.
	Skipped []string
}

// Lookup returns the unit with the given identifier.
func (inv Inventory) Lookup(identifier string) (Unit, bool) {
	i := sort.Search(len(inv.Units), func(i int) bool {
		return inv.Units[i].Identifier >= identifier
	})
	if i < len(inv.Units) && inv.Units[i].Identifier == identifier {
		return inv.Units[i], true
	}
	return Unit{}, false
}

// Enabled returns the identifiers of every enabled unit.
func (inv Inventory) Enabled() []string {
	var ids []string
	for _, u := range inv.Units {
		if u.Enabled() {
			ids = append(ids, u.Identifier)
		}
	}
	return ids
}

// Scanner walks the unit root and classifies files by their state suffix.
type Scanner struct {
	fs     afero.Fs
	root   string
	codec  Codec
	logger *slog.Logger
}

// NewScanner builds a read-only scanner over root.
func NewScanner(fsys afero.Fs, root string, codec Codec, logger *slog.Logger) *Scanner {
	if fsys == nil {
		fsys = NewOSFileSystem()
	}
	return &Scanner{fs: fsys, root: filepath.Clean(root), codec: codec, logger: logger}
}

// errNotRealDir marks a path component that Scan would not descend into.
var errNotRealDir = errors.New("not a real directory")

type candidate struct {
	unit Unit
	rank int
	path string
}

type pendingDir struct {
	abs      string
	segments []string
}

// Scan visits every directory below the root using an explicit worklist.
// Symlinked directories are not followed, so the walk cannot cycle.
func (s *Scanner) Scan(ctx context.Context) (Inventory, error) {
	logger := s.loggerOrDefault()

	best := make(map[string]candidate)
	var inv Inventory

	stack := []pendingDir{{abs: s.root}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Inventory{}, err
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := afero.ReadDir(s.fs, dir.abs)
		if err != nil {
			return Inventory{}, fmt.Errorf("read directory %s: %w", dir.abs, err)
		}

		for _, entry := range entries {
			name := entry.Name()
			abs := filepath.Join(dir.abs, name)
			rel := s.relativePath(abs)

			info, isDir, err := s.resolveEntry(abs, entry)
			if err != nil {
				logger.Warn("Skipping unreadable entry", "path", rel, "error", err)
				continue
			}
			if isDir {
				if entry.Mode()&fs.ModeSymlink != 0 {
					logger.Debug("Not following symlinked directory", "path", rel)
					continue
				}
				err := s.codec.checkSegment(name)
				if err == nil {
					err = checkBaseName(name)
				}
				if err != nil {
					inv.Skipped = append(inv.Skipped, rel)
					logger.Warn("Skipping directory with unencodable name", "path", rel, "error", err)
					continue
				}
				segments := append(append([]string(nil), dir.segments...), name)
				stack = append(stack, pendingDir{abs: abs, segments: segments})
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}

			base, state, canonical, ok := classifyName(name)
			if !ok {
				continue
			}
			segments := append(append([]string(nil), dir.segments...), base)
			identifier, err := s.codec.Encode(segments)
			if err == nil {
				err = checkBaseName(base)
			}
			if err != nil {
				inv.Skipped = append(inv.Skipped, rel)
				logger.Warn("Skipping file with unencodable name", "path", rel, "error", err)
				continue
			}

			next := candidate{
				unit: Unit{
					Identifier:   identifier,
					Path:         segments,
					State:        state,
					LastModified: info.ModTime(),
					File:         rel,
				},
				rank: rank(state, canonical),
				path: abs,
			}
			prev, seen := best[identifier]
			switch {
			case !seen:
				best[identifier] = next
			case next.rank > prev.rank:
				best[identifier] = next
				inv.Shadowed = append(inv.Shadowed, prev.unit.File)
			default:
				inv.Shadowed = append(inv.Shadowed, next.unit.File)
			}
		}
	}

	inv.Units = make([]Unit, 0, len(best))
	for _, c := range best {
		inv.Units = append(inv.Units, c.unit)
	}
	sort.Slice(inv.Units, func(i, j int) bool {
		return inv.Units[i].Identifier < inv.Units[j].Identifier
	})
	sort.Strings(inv.Shadowed)
	sort.Strings(inv.Skipped)

	for _, file := range inv.Shadowed {
		logger.Warn("Conflicting unit file ignored", "file", file)
	}
	logger.Debug("Scanned unit root", "root", s.root, "units", len(inv.Units), "shadowed", len(inv.Shadowed), "skipped", len(inv.Skipped))

	return inv, nil
}

// Find resolves a single identifier by looking only in the directory its
// decoded path points at. Names are compared exactly, so "api" never
// matches a file belonging to "api-v2".
func (s *Scanner) Find(ctx context.Context, identifier string) (Unit, error) {
	matches, err := s.resolve(ctx, identifier)
	if err != nil {
		return Unit{}, err
	}
	return matches[0].unit, nil
}

// resolve returns every file that claims identifier, best first. It fails
// with ErrNotFound when there is none.
func (s *Scanner) resolve(ctx context.Context, identifier string) ([]candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segments, err := s.codec.Decode(identifier)
	if err != nil {
		return nil, err
	}
	base := segments[len(segments)-1]
	if err := checkUnitPath(segments); err != nil {
		return nil, err
	}
	if err := s.checkParents(segments); err != nil {
		if isNotExist(err) || errors.Is(err, errNotRealDir) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	canonicalID, err := s.codec.Encode(segments)
	if err != nil {
		return nil, err
	}

	dir := s.dirPath(segments)
	var matches []candidate
	for _, probe := range []struct {
		name      string
		state     State
		canonical bool
	}{
		{fileName(base, Enabled), Enabled, true},
		{fileName(base, Disabled), Disabled, true},
		{base + legacyDisabledSuffix, Disabled, false},
	} {
		abs := filepath.Join(dir, probe.name)
		info, err := s.fs.Stat(abs)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, s.relativePath(abs), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		matches = append(matches, candidate{
			unit: Unit{
				Identifier:   canonicalID,
				Path:         segments,
				State:        probe.state,
				LastModified: info.ModTime(),
				File:         s.relativePath(abs),
			},
			rank: rank(probe.state, probe.canonical),
			path: abs,
		})
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches, nil
}

// checkParents lstats every directory between the root and the unit file.
// A missing component yields fs.ErrNotExist; a symlink or plain file yields
// errNotRealDir, since Scan never enters either.
func (s *Scanner) checkParents(segments []string) error {
	dir := s.root
	for _, seg := range segments[:len(segments)-1] {
		dir = filepath.Join(dir, seg)
		info, err := lstat(s.fs, dir)
		if err != nil {
			if isNotExist(err) {
				return fmt.Errorf("directory %s: %w", s.relativePath(dir), fs.ErrNotExist)
			}
			return fmt.Errorf("%w: lstat %s: %w", ErrIO, s.relativePath(dir), err)
		}
		if info.Mode()&fs.ModeSymlink != 0 || !info.IsDir() {
			return fmt.Errorf("directory %s: %w", s.relativePath(dir), errNotRealDir)
		}
	}
	return nil
}

func (s *Scanner) resolveEntry(abs string, entry fs.FileInfo) (fs.FileInfo, bool, error) {
	if entry.Mode()&fs.ModeSymlink == 0 {
		return entry, entry.IsDir(), nil
	}
	target, err := s.fs.Stat(abs)
	if err != nil {
		return nil, false, err
	}
	return target, target.IsDir(), nil
}

func (s *Scanner) dirPath(segments []string) string {
	parts := append([]string{s.root}, segments[:len(segments)-1]...)
	return filepath.Join(parts...)
}

func (s *Scanner) filePath(segments []string, state State) string {
	return filepath.Join(s.dirPath(segments), fileName(segments[len(segments)-1], state))
}

func (s *Scanner) relativePath(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return strings.TrimPrefix(filepath.ToSlash(rel), "./")
}

func (s *Scanner) loggerOrDefault() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
