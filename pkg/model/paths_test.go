package model

import (
	"strings"
	"testing"

	"github.com/cairnstore/cairn/pkg/cas"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedKeys(t *testing.T) {
	id := cas.HashBytes([]byte("hello"))
	h := id.String()

	ek := ExtentKey(id)
	assert.Equal(t, "extents/"+h[0:2]+"/"+h[2:4]+"/"+h[4:], ek)

	bk := BlobKey(id)
	assert.Equal(t, "blobs/"+h[0:2]+"/"+h[2:4]+"/"+h[4:], bk)
}

func TestCatalogKeyRoundtrip(t *testing.T) {
	id := uuid.New()
	key := CatalogKey(id)
	assert.True(t, strings.HasPrefix(key, "catalogs/"))
	assert.NotContains(t, key, "-")

	parsed, err := ParseCatalogKey(key)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseCatalogKey("extents/ab/cd/ef")
	require.Error(t, err)
}
