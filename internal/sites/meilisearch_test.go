package sites

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeUnitDocuments(t *testing.T) {
	t.Parallel()

	modified := time.Date(2026, 10, 1, 9, 30, 0, 0, time.FixedZone("CEST", 2*60*60))
	docs := makeUnitDocuments([]Revision{{
		Unit: Unit{
			Identifier:   "corp|shop",
			Path:         []string{"corp", "shop"},
			State:        Enabled,
			LastModified: modified,
			File:         "corp/shop.conf",
		},
		Content: "server {}",
	}})

	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(t, unitDocumentID("corp|shop"), doc.ID)
	assert.Regexp(t, `^[0-9a-f]{32}$`, doc.ID)
	assert.Equal(t, "enabled", doc.State)
	assert.Equal(t, []string{"corp", "shop"}, doc.Path)
	assert.Equal(t, "2026-10-01T07:30:00Z", doc.LastModified)
	assert.NotEqual(t, unitDocumentID("corp|shop"), unitDocumentID("corp|shop2"))
}

func TestSameMembers(t *testing.T) {
	t.Parallel()

	assert.True(t, sameMembers([]string{"state", "path"}, []string{"path", "state"}))
	assert.False(t, sameMembers([]string{"path"}, []string{"path", "state"}))
	assert.False(t, sameMembers(nil, []string{"path"}))

	in := []string{"state", "path"}
	sameMembers(in, []string{"path", "state"})
	assert.Equal(t, []string{"state", "path"}, in, "inputs are not reordered")
}
