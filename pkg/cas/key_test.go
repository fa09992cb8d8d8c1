package cas

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	b := make([]byte, KeySize)
	for i := range b {
		b[i] = byte(i)
	}
	k, err := NewKey(b)
	require.NoError(t, err)
	assert.EqualValues(t, b, k[:])

	_, err = NewKey(b[:16])
	require.Error(t, err)
	require.IsType(t, &BadKeySize{}, err)
}

func TestKeyFromString(t *testing.T) {
	k := HashBytes([]byte("hello"))
	parsed, err := KeyFromString(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = KeyFromString("abcd")
	require.Error(t, err)

	_, err = KeyFromString(strings.Repeat("zz", KeySize))
	require.Error(t, err)
}

func TestHashBytes(t *testing.T) {
	k1 := HashBytes([]byte("some content"))
	k2 := HashBytes([]byte("some content"))
	k3 := HashBytes([]byte("other content"))
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1.String(), KeySizeHex)
}

func TestIncrementalHasher(t *testing.T) {
	h := NewHasher()
	_, err := h.Write([]byte("some "))
	require.NoError(t, err)
	_, err = h.Write([]byte("content"))
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("some content")), KeyFromHasher(h))
}

func TestIsZero(t *testing.T) {
	var zero Key
	assert.True(t, zero.IsZero())
	assert.False(t, HashBytes(nil).IsZero())
}
