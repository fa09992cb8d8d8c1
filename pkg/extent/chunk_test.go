package extent

import (
	"testing"

	"github.com/cairnstore/cairn/internal/rand"
	"github.com/cairnstore/cairn/pkg/cas"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content []byte) afero.File {
	t.Helper()
	fs := afero.NewMemMapFs()
	f, err := fs.Create("data")
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	return f
}

func TestBuildBlobEmptyFile(t *testing.T) {
	f := writeFile(t, nil)

	info, err := BuildBlob(f, 0, Fallback{})
	require.NoError(t, err)
	assert.Equal(t, cas.HashBytes(nil), info.ID)
	assert.EqualValues(t, 0, info.Bytes)
	assert.Empty(t, info.Extents)
}

func TestBuildBlobSmallFile(t *testing.T) {
	content := []byte("hello world")
	f := writeFile(t, content)

	info, err := BuildBlob(f, int64(len(content)), Fallback{})
	require.NoError(t, err)
	assert.Equal(t, cas.HashBytes(content), info.ID)
	assert.EqualValues(t, len(content), info.Bytes)
	require.Len(t, info.Extents, 1)
	assert.Equal(t, cas.HashBytes(content), info.Extents[0].ID)
	assert.EqualValues(t, 0, info.Extents[0].Offset)
	assert.EqualValues(t, len(content), info.Extents[0].Bytes)
}

func TestBuildBlobSubchunksLargeRange(t *testing.T) {
	content := rand.Bytes(MaxExtentSize*2 + 100)
	f := writeFile(t, content)

	info, err := BuildBlob(f, int64(len(content)), Fallback{})
	require.NoError(t, err)
	assert.Equal(t, cas.HashBytes(content), info.ID)
	require.Len(t, info.Extents, 3)

	assert.Equal(t, cas.HashBytes(content[:MaxExtentSize]), info.Extents[0].ID)
	assert.Equal(t, cas.HashBytes(content[MaxExtentSize:2*MaxExtentSize]), info.Extents[1].ID)
	assert.Equal(t, cas.HashBytes(content[2*MaxExtentSize:]), info.Extents[2].ID)
	assert.EqualValues(t, 100, info.Extents[2].Bytes)

	// subchunks of one filesystem range share the fs extent index
	assert.Equal(t, info.Extents[0].FsExtent, info.Extents[1].FsExtent)
	assert.Equal(t, info.Extents[0].FsExtent, info.Extents[2].FsExtent)
}

type fixedSource struct {
	ranges []Range
}

func (s fixedSource) Ranges(_ afero.File, _ int64) ([]Range, error) {
	return s.ranges, nil
}

func TestBuildBlobSparseRanges(t *testing.T) {
	// 100 data bytes, a 100 byte hole, 50 data bytes, trailing 50 byte hole
	data1 := rand.Bytes(100)
	data2 := rand.Bytes(50)
	content := make([]byte, 300)
	copy(content[0:], data1)
	copy(content[200:], data2)
	f := writeFile(t, content)

	src := fixedSource{ranges: []Range{
		{Offset: 0, Length: 100},
		{Offset: 100, Length: 100, Sparse: true},
		{Offset: 200, Length: 50},
		{Offset: 250, Length: 50, Sparse: true},
	}}

	info, err := BuildBlob(f, 300, src)
	require.NoError(t, err)

	// blob key covers the full content with holes reading as zeroes
	assert.Equal(t, cas.HashBytes(content), info.ID)

	require.Len(t, info.Extents, 4)
	assert.False(t, info.Extents[0].Sparse)
	assert.True(t, info.Extents[1].Sparse)
	assert.True(t, info.Extents[1].ID.IsZero())
	assert.False(t, info.Extents[2].Sparse)
	assert.True(t, info.Extents[3].Sparse)

	// distinct filesystem ranges get distinct indices
	assert.NotEqual(t, info.Extents[0].FsExtent, info.Extents[2].FsExtent)
}

func TestBuildBlobUnreportedGap(t *testing.T) {
	content := make([]byte, 200)
	copy(content[100:], rand.Bytes(100))
	f := writeFile(t, content)

	src := fixedSource{ranges: []Range{{Offset: 100, Length: 100}}}

	info, err := BuildBlob(f, 200, src)
	require.NoError(t, err)
	assert.Equal(t, cas.HashBytes(content), info.ID)
	require.Len(t, info.Extents, 1)
	assert.EqualValues(t, 100, info.Extents[0].Offset)
}

func TestBuildBlobRejectsBadRanges(t *testing.T) {
	f := writeFile(t, rand.Bytes(100))

	_, err := BuildBlob(f, 100, fixedSource{ranges: []Range{
		{Offset: 50, Length: 50},
		{Offset: 0, Length: 50},
	}})
	require.Error(t, err)

	_, err = BuildBlob(f, 100, fixedSource{ranges: []Range{
		{Offset: 0, Length: 200},
	}})
	require.Error(t, err)
}

func TestBuildBlobIdenticalContentSameKey(t *testing.T) {
	content := rand.Bytes(4096)

	a, err := BuildBlob(writeFile(t, content), 4096, Fallback{})
	require.NoError(t, err)
	b, err := BuildBlob(writeFile(t, content), 4096, Fallback{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}
