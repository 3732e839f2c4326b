package sites

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleWatcherEvent(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)
	syncer := NewSyncer(NewManager(NewOSFileSystem(), root, codec, discardLogger()), discardLogger())

	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer watcher.Close()
	go func() {
		for range watcher.Events {
		}
	}()
	go func() {
		for range watcher.Errors {
		}
	}()

	watched := make(map[string]struct{})
	require.NoError(t, syncer.addRecursiveWatch(watcher, root, watched))
	assert.Contains(t, watched, root)

	nested := filepath.Join(root, "nested")
	deep := filepath.Join(nested, "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	assert.True(t, syncer.handleWatcherEvent(fsnotify.Event{Name: nested, Op: fsnotify.Create}, watcher, watched))
	assert.Contains(t, watched, nested)
	assert.Contains(t, watched, deep)

	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(outside, link))
	assert.False(t, syncer.handleWatcherEvent(fsnotify.Event{Name: link, Op: fsnotify.Create}, watcher, watched))
	assert.NotContains(t, watched, link)

	tests := []struct {
		name string
		op   fsnotify.Op
		want bool
	}{
		{"site.conf", fsnotify.Write, true},
		{"site.disabled", fsnotify.Chmod, true},
		{"old.conf.disabled", fsnotify.Remove, true},
		{"nested/deep/api.conf", fsnotify.Rename, true},
		{"README.md", fsnotify.Write, false},
		{".site.conf.123.tmp", fsnotify.Create, false},
	}
	for _, tt := range tests {
		event := fsnotify.Event{Name: filepath.Join(root, filepath.FromSlash(tt.name)), Op: tt.op}
		assert.Equal(t, tt.want, syncer.handleWatcherEvent(event, watcher, watched), "%s %s", tt.op, tt.name)
	}

	require.NoError(t, os.RemoveAll(nested))
	assert.True(t, syncer.handleWatcherEvent(fsnotify.Event{Name: nested, Op: fsnotify.Remove}, watcher, watched))
	assert.NotContains(t, watched, nested)
}
