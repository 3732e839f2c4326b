package sites

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShellTriggerBlankCommand(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewShellTrigger(""))
	assert.Nil(t, NewShellTrigger("   "))
	assert.Equal(t, "nginx -s reload", NewShellTrigger(" nginx -s reload ").Command())
}

func TestShellTriggerReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	require.NoError(t, NewShellTrigger("true").Reload(ctx))

	err := NewShellTrigger("echo nope >&2; exit 3").Reload(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestShellTriggerReceivesChangeSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	out := filepath.Join(t.TempDir(), "payload.json")
	trigger := NewShellTrigger("cat > '" + out + "'")

	require.NoError(t, trigger.ApplyChanges(ctx, ChangeSet{}))
	_, err := os.Stat(out)
	require.True(t, os.IsNotExist(err), "empty change sets must not run the command")

	changes := ChangeSet{
		Upserts: []Revision{{
			Unit:    Unit{Identifier: "a|b", Path: []string{"a", "b"}, State: Enabled, File: "a/b.conf"},
			Content: "server {}",
		}},
		Deletions: []string{"old"},
	}
	require.NoError(t, trigger.ApplyChanges(ctx, changes))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var got ChangeSet
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Upserts, 1)
	assert.Equal(t, "a|b", got.Upserts[0].Identifier)
	assert.Equal(t, Enabled, got.Upserts[0].State)
	assert.Equal(t, "server {}", got.Upserts[0].Content)
	assert.Equal(t, []string{"old"}, got.Deletions)
}
