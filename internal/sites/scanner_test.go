package sites

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScanner(t *testing.T, fsys afero.Fs, root string) *Scanner {
	t.Helper()

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)
	return NewScanner(fsys, root, codec, discardLogger())
}

func TestScanClassifiesBySuffix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fsys := afero.NewMemMapFs()
	for name, body := range map[string]string{
		"/sites/one.conf":              "1",
		"/sites/two.disabled":          "2",
		"/sites/three.conf.disabled":   "3",
		"/sites/README.md":             "docs",
		"/sites/four.conf.bak":         "backup",
		"/sites/.five.conf.123.tmp":    "partial write",
		"/sites/nested/deep/six.conf":  "6",
		"/sites/nested/seven.disabled": "7",
	} {
		require.NoError(t, fsys.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(fsys, name, []byte(body), 0o644))
	}

	inv, err := newTestScanner(t, fsys, "/sites").Scan(ctx)
	require.NoError(t, err)

	got := make(map[string]State, len(inv.Units))
	for _, u := range inv.Units {
		got[u.Identifier] = u.State
	}
	assert.Equal(t, map[string]State{
		"one":             Enabled,
		"two":             Disabled,
		"three":           Disabled,
		"nested|deep|six": Enabled,
		"nested|seven":    Disabled,
	}, got)
	assert.Equal(t, []string{"nested|deep|six", "one"}, inv.Enabled())

	unit, ok := inv.Lookup("nested|deep|six")
	require.True(t, ok)
	assert.Equal(t, []string{"nested", "deep", "six"}, unit.Path)
	assert.Equal(t, "nested/deep/six.conf", unit.File)

	_, ok = inv.Lookup("nested")
	assert.False(t, ok)
}

func TestScanPrefersCanonicalDisabledName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/sites", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/sites/x.conf.disabled", []byte("legacy"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/sites/x.disabled", []byte("canonical"), 0o644))

	inv, err := newTestScanner(t, fsys, "/sites").Scan(ctx)
	require.NoError(t, err)
	require.Len(t, inv.Units, 1)
	assert.Equal(t, "x.disabled", inv.Units[0].File)
	assert.Equal(t, []string{"x.conf.disabled"}, inv.Shadowed)
}

func TestScanSkipsUnencodableNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/sites/we|ird", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/sites/we|ird/a.conf", nil, 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/sites/b|c.conf", nil, 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/sites/ok.conf", nil, 0o644))

	inv, err := newTestScanner(t, fsys, "/sites").Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, identifiers(inv.Units))
	assert.Equal(t, []string{"b|c.conf", "we|ird"}, inv.Skipped)
}

func TestScanStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/sites", 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScanner(t, fsys, "/sites").Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanDoesNotFollowSymlinkedDirectories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	outside := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(outside, "elsewhere.conf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "linked.conf"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "local.conf"), []byte("z"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "loop")))
	require.NoError(t, os.Symlink(root, filepath.Join(root, "self")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "linked.conf"), filepath.Join(root, "linked.conf")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "missing.conf"), filepath.Join(root, "dangling.conf")))

	inv, err := newTestScanner(t, NewOSFileSystem(), root).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"linked", "local"}, identifiers(inv.Units))
}

func TestResolveStaysOutOfSymlinkedDirectories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	outside := t.TempDir()

	victim := filepath.Join(outside, "victim.conf")
	local := filepath.Join(root, "local.conf")
	require.NoError(t, os.WriteFile(victim, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(local, []byte("z"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "loop")))
	require.NoError(t, os.Symlink(root, filepath.Join(root, "self")))

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)
	m := NewManager(NewOSFileSystem(), root, codec, discardLogger())

	units, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, identifiers(units))

	_, err = m.Scanner().Find(ctx, "loop|victim")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Read(ctx, "loop|victim")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Update(ctx, "loop|victim", "owned"), ErrNotFound)
	_, err = m.SetEnabled(ctx, "loop|victim", false)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "loop|victim"), ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "self|local"), ErrNotFound)

	_, err = m.Create(ctx, "loop|planted", "x")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, err = m.Create(ctx, "self|local", "x")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
	_, err = os.Stat(local)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outside, "planted.disabled"))
	assert.True(t, os.IsNotExist(err))
}

func TestResolveTreatsFileParentAsMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("plain"), 0o644))

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)
	m := NewManager(NewOSFileSystem(), root, codec, discardLogger())

	_, err = m.Read(ctx, "a|b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, m.Update(ctx, "a|b", "y"), ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "a|b"), ErrNotFound)
	_, err = m.SetEnabled(ctx, "a|b", true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Create(ctx, "a|b", "y")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestScanSkipsDirectoriesNamedLikeUnits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/sites/x.conf", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/sites/x.conf/y.conf", nil, 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/sites/ok.conf", nil, 0o644))

	inv, err := newTestScanner(t, fsys, "/sites").Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, identifiers(inv.Units))
	assert.Equal(t, []string{"x.conf"}, inv.Skipped)
}

func TestFindUsesExactNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/sites/api", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/sites/api-v2.conf", nil, 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/sites/api/v1.disabled", nil, 0o644))

	s := newTestScanner(t, fsys, "/sites")

	_, err := s.Find(ctx, "api")
	assert.ErrorIs(t, err, ErrNotFound)

	unit, err := s.Find(ctx, "api/v1")
	require.NoError(t, err)
	assert.Equal(t, "api|v1", unit.Identifier)
	assert.Equal(t, Disabled, unit.State)

	_, err = s.Find(ctx, "api|..|api-v2")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
