package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneIsZero(t *testing.T) {
	assert.True(t, None.IsNone())
	assert.Equal(t, "00000000000000000000000000000000"[:32], None.String())
}

func TestNewIDsAreDistinct(t *testing.T) {
	seen := make(map[ID]struct{}, 256)
	for i := 0; i < 256; i++ {
		id := New()
		require.False(t, id.IsNone())
		_, dup := seen[id]
		assert.False(t, dup, "generated duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 256)
}

func TestStringRoundTrip(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseShortHexIsLeftPadded(t *testing.T) {
	id, err := Parse("1a")
	require.NoError(t, err)
	assert.Equal(t, "0000000000000000000000000000001a", id.String())
}

func TestParseToleratesLeadingZerosBeyond32Chars(t *testing.T) {
	id, err := Parse("00000000" + "0000000000000000000000000000001a")
	require.NoError(t, err)
	assert.Equal(t, "0000000000000000000000000000001a", id.String())
}

func TestParseAllZerosIsNone(t *testing.T) {
	id, err := Parse("0")
	require.NoError(t, err)
	assert.True(t, id.IsNone())

	id, err = Parse(strings.Repeat("0", 40))
	require.NoError(t, err)
	assert.True(t, id.IsNone())
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("not-hex")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrInvalidID)

	tooLong := make([]byte, 33)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	_, err = Parse(string(tooLong))
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestTextMarshalRoundTrip(t *testing.T) {
	id := New()
	text, err := id.MarshalText()
	require.NoError(t, err)

	var parsed ID
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, id, parsed)
}
