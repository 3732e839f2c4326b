package sites

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// Manager performs lifecycle operations on units. It keeps no state about
// units between calls: every operation re-reads the unit root.
type Manager struct {
	fs       afero.Fs
	root     string
	codec    Codec
	scanner  *Scanner
	recorder Recorder
	logger   *slog.Logger
}

// NewManager constructs a Manager for the units stored under root.
func NewManager(fsys afero.Fs, root string, codec Codec, logger *slog.Logger) *Manager {
	if fsys == nil {
		fsys = NewOSFileSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	root = filepath.Clean(root)
	return &Manager{
		fs:      fsys,
		root:    root,
		codec:   codec,
		scanner: NewScanner(fsys, root, codec, logger),
		logger:  logger,
	}
}

// SetRecorder installs the journal that receives lifecycle events.
func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
}

// Root returns the unit root directory.
func (m *Manager) Root() string {
	return m.root
}

// Codec returns the identifier codec in use.
func (m *Manager) Codec() Codec {
	return m.codec
}

// Scanner exposes the read-only scanner shared with the manager.
func (m *Manager) Scanner() *Scanner {
	return m.scanner
}

// Create writes a new disabled unit holding content.
func (m *Manager) Create(ctx context.Context, identifier, content string) (Unit, error) {
	segments, id, err := m.parse(identifier)
	if err != nil {
		return Unit{}, opError("create", identifier, err)
	}

	if err := m.scanner.checkParents(segments); err != nil {
		if errors.Is(err, errNotRealDir) {
			return Unit{}, opError("create", id, fmt.Errorf("%w: %w", ErrInvalidIdentifier, err))
		}
		if !isNotExist(err) {
			return Unit{}, opError("create", id, err)
		}
	}

	if _, err := m.scanner.resolve(ctx, id); err == nil {
		return Unit{}, opError("create", id, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return Unit{}, opError("create", id, err)
	}

	dir := m.scanner.dirPath(segments)
	if err := m.fs.MkdirAll(dir, defaultDirPerm); err != nil {
		return Unit{}, opError("create", id, fmt.Errorf("%w: create directory: %w", ErrIO, err))
	}

	target := m.scanner.filePath(segments, Disabled)
	if err := writeFileAtomic(m.fs, target, []byte(content), defaultFilePerm, createOnly); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Unit{}, opError("create", id, ErrAlreadyExists)
		}
		return Unit{}, opError("create", id, fmt.Errorf("%w: %w", ErrIO, err))
	}

	unit, err := m.scanner.Find(ctx, id)
	if err != nil {
		return Unit{}, opError("create", id, err)
	}
	m.logger.Info("Created unit", "identifier", id, "file", unit.File)
	m.record(ctx, ActionCreate, unit)
	return unit, nil
}

// CreateFromTemplate renders the initial body with provider and creates the unit.
func (m *Manager) CreateFromTemplate(ctx context.Context, identifier string, provider TemplateProvider) (Unit, error) {
	_, id, err := m.parse(identifier)
	if err != nil {
		return Unit{}, opError("create", identifier, err)
	}
	content, err := provider.Render(id)
	if err != nil {
		return Unit{}, opError("create", id, fmt.Errorf("render template: %w", err))
	}
	return m.Create(ctx, id, content)
}

// Read returns the unit and its body.
func (m *Manager) Read(ctx context.Context, identifier string) (Revision, error) {
	_, id, err := m.parse(identifier)
	if err != nil {
		return Revision{}, opError("read", identifier, err)
	}
	match, err := m.best(ctx, id)
	if err != nil {
		return Revision{}, opError("read", id, err)
	}
	data, err := afero.ReadFile(m.fs, match.path)
	if err != nil {
		if isNotExist(err) {
			return Revision{}, opError("read", id, ErrNotFound)
		}
		return Revision{}, opError("read", id, fmt.Errorf("%w: %w", ErrIO, err))
	}
	return Revision{Unit: match.unit, Content: string(data)}, nil
}

// Update replaces the body of an existing unit without changing its state.
func (m *Manager) Update(ctx context.Context, identifier, content string) error {
	_, id, err := m.parse(identifier)
	if err != nil {
		return opError("update", identifier, err)
	}
	match, err := m.best(ctx, id)
	if err != nil {
		return opError("update", id, err)
	}

	info, err := m.fs.Stat(match.path)
	if err != nil && !isNotExist(err) {
		return opError("update", id, fmt.Errorf("%w: %w", ErrIO, err))
	}
	if err := writeFileAtomic(m.fs, match.path, []byte(content), filePerm(info), replaceOnly); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return opError("update", id, ErrNotFound)
		}
		return opError("update", id, fmt.Errorf("%w: %w", ErrIO, err))
	}

	m.logger.Info("Updated unit", "identifier", id, "file", match.unit.File, "bytes", len(content))
	m.record(ctx, ActionUpdate, match.unit)
	return nil
}

// Delete removes the single file backing identifier. When more than one file
// claims the identifier nothing is removed and ErrAmbiguousMatch is returned.
func (m *Manager) Delete(ctx context.Context, identifier string) error {
	_, id, err := m.parse(identifier)
	if err != nil {
		return opError("delete", identifier, err)
	}
	matches, err := m.scanner.resolve(ctx, id)
	if err != nil {
		return opError("delete", id, err)
	}
	if len(matches) > 1 {
		files := make([]string, 0, len(matches))
		for _, c := range matches {
			files = append(files, c.unit.File)
		}
		return opError("delete", id, fmt.Errorf("%w: %v", ErrAmbiguousMatch, files))
	}
	match := matches[0]

	if err := m.fs.Remove(match.path); err != nil {
		if isNotExist(err) {
			return opError("delete", id, ErrNotFound)
		}
		return opError("delete", id, fmt.Errorf("%w: %w", ErrIO, err))
	}
	exists, err := pathExists(m.fs, match.path)
	if err != nil {
		return opError("delete", id, fmt.Errorf("%w: verify removal: %w", ErrIO, err))
	}
	if exists {
		return opError("delete", id, fmt.Errorf("%w: %s still present after removal", ErrIO, match.unit.File))
	}

	m.logger.Info("Deleted unit", "identifier", id, "file", match.unit.File)
	m.record(ctx, ActionDelete, match.unit)
	return nil
}

// SetEnabled renames the unit's file to the suffix of the requested state.
// Asking for the current state is a no-op. An existing file at the
// destination is never overwritten.
func (m *Manager) SetEnabled(ctx context.Context, identifier string, enabled bool) (Unit, error) {
	op := "disable"
	action := ActionDisable
	want := Disabled
	if enabled {
		op, action, want = "enable", ActionEnable, Enabled
	}

	segments, id, err := m.parse(identifier)
	if err != nil {
		return Unit{}, opError(op, identifier, err)
	}
	match, err := m.best(ctx, id)
	if err != nil {
		return Unit{}, opError(op, id, err)
	}
	if match.unit.State == want {
		m.logger.Debug("Unit already in requested state", "identifier", id, "state", want.String())
		return match.unit, nil
	}

	target := m.scanner.filePath(segments, want)
	exists, err := pathExists(m.fs, target)
	if err != nil {
		return Unit{}, opError(op, id, fmt.Errorf("%w: stat destination: %w", ErrIO, err))
	}
	if exists {
		return Unit{}, opError(op, id, fmt.Errorf("%w: destination %s: %w", ErrIO, m.scanner.relativePath(target), fs.ErrExist))
	}
	if err := m.fs.Rename(match.path, target); err != nil {
		if isNotExist(err) {
			return Unit{}, opError(op, id, ErrNotFound)
		}
		return Unit{}, opError(op, id, fmt.Errorf("%w: rename: %w", ErrIO, err))
	}

	unit := match.unit
	unit.State = want
	unit.File = m.scanner.relativePath(target)
	if info, err := m.fs.Stat(target); err == nil {
		unit.LastModified = info.ModTime()
	}

	m.logger.Info("Changed unit state", "identifier", id, "state", want.String(), "file", unit.File)
	m.record(ctx, action, unit)
	return unit, nil
}

// List returns every unit ordered by identifier.
func (m *Manager) List(ctx context.Context) ([]Unit, error) {
	inv, err := m.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	return inv.Units, nil
}

// Inventory returns the full scan result, including shadowed files.
func (m *Manager) Inventory(ctx context.Context) (Inventory, error) {
	inv, err := m.scanner.Scan(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Inventory{}, opError("list", "", err)
		}
		return Inventory{}, opError("list", "", fmt.Errorf("%w: %w", ErrIO, err))
	}
	return inv, nil
}

// parse decodes an identifier and returns its segments and canonical form.
func (m *Manager) parse(identifier string) ([]string, string, error) {
	segments, err := m.codec.Decode(identifier)
	if err != nil {
		return nil, "", err
	}
	if err := checkUnitPath(segments); err != nil {
		return nil, "", err
	}
	id, err := m.codec.Encode(segments)
	if err != nil {
		return nil, "", err
	}
	return segments, id, nil
}

func (m *Manager) best(ctx context.Context, id string) (candidate, error) {
	matches, err := m.scanner.resolve(ctx, id)
	if err != nil {
		return candidate{}, err
	}
	if len(matches) > 1 {
		for _, c := range matches[1:] {
			m.logger.Warn("Conflicting unit file ignored", "identifier", id, "file", c.unit.File)
		}
	}
	return matches[0], nil
}

func (m *Manager) record(ctx context.Context, action Action, unit Unit) {
	if m.recorder == nil {
		return
	}
	event := Event{
		Identifier: unit.Identifier,
		Action:     action,
		State:      unit.State,
		File:       unit.File,
	}
	if err := m.recorder.Record(ctx, event); err != nil {
		m.logger.Warn("Failed to record lifecycle event", "identifier", unit.Identifier, "action", string(action), "error", err)
	}
}
