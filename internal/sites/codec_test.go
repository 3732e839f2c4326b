package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)

	paths := [][]string{
		{"shop"},
		{"example.com"},
		{"a", "b"},
		{"internal", "api", "v2"},
		{"with space", "ünïcode"},
		{".hidden", "x"},
	}
	for _, p := range paths {
		id, err := codec.Encode(p)
		require.NoError(t, err, "encode %v", p)

		decoded, err := codec.Decode(id)
		require.NoError(t, err, "decode %q", id)
		assert.Equal(t, p, decoded)
	}
}

func TestCodecEncodeJoinsWithDelimiter(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)

	id, err := codec.Encode([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a|b", id)

	colon, err := NewCodec(':')
	require.NoError(t, err)
	id, err = colon.Encode([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a:b", id)
}

func TestCodecRejectsDelimiterInSegment(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)

	_, err = codec.Encode([]string{"a|b"})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = codec.Encode(nil)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestCodecDecodeAcceptsSlashAlias(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)

	segments, err := codec.Decode("a/b|c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, segments)

	canonical, err := codec.Canonical("a/b")
	require.NoError(t, err)
	assert.Equal(t, "a|b", canonical)
}

func TestCodecDecodeRejectsEscapes(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(DefaultDelimiter)
	require.NoError(t, err)

	for _, id := range []string{
		"",
		"..",
		"..|etc|passwd",
		"../etc/passwd",
		"a|..|b",
		"a|.|b",
		"a||b",
		"|a",
		"a|",
		"/etc/passwd",
		`a\b`,
		"a\x00b",
	} {
		_, err := codec.Decode(id)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "identifier %q", id)
	}
}

func TestNewCodecRejectsUnusableDelimiters(t *testing.T) {
	t.Parallel()

	for _, r := range []rune{0, '/', '\\', '.', 'a', 'Z', '7', '-', '_', ' ', '\t', 'é', '¦'} {
		_, err := NewCodec(r)
		assert.Error(t, err, "delimiter %q", r)
	}

	for _, r := range []rune{'|', ':', '~', '+', '@'} {
		_, err := NewCodec(r)
		assert.NoError(t, err, "delimiter %q", r)
	}
}

func TestZeroCodecUsesDefaultDelimiter(t *testing.T) {
	t.Parallel()

	var codec Codec
	id, err := codec.Encode([]string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, "x|y", id)
}
