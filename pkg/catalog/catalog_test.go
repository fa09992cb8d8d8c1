package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrI64(v int64) *int64   { return &v }
func ptrU32(v uint32) *uint32 { return &v }

func testEntries() []model.FileEntry {
	sharedBlob := &model.BlobInfo{
		ID:    cas.HashBytes([]byte("shared content")),
		Bytes: 14,
		Extents: []model.ExtentInfo{
			{ID: cas.HashBytes([]byte("shared content")), Offset: 0, Bytes: 14, FsExtent: 1},
		},
	}
	sparseBlob := &model.BlobInfo{
		ID:    cas.HashBytes([]byte("sparse-ish")),
		Bytes: 300,
		Extents: []model.ExtentInfo{
			{ID: cas.HashBytes([]byte("head")), Offset: 0, Bytes: 100, FsExtent: 1},
			{Offset: 100, Bytes: 100, Sparse: true, FsExtent: 2},
			{ID: cas.HashBytes([]byte("tail")), Offset: 200, Bytes: 100, FsExtent: 3},
		},
	}
	mode := ptrU32(0o644)
	return []model.FileEntry{
		{Path: "a.txt", Blob: sharedBlob, TsModified: ptrI64(1000), UnixMode: mode},
		{Path: "b.txt", Blob: sharedBlob, TsModified: ptrI64(2000), UnixMode: mode},
		{Path: "sparse.bin", Blob: sparseBlob, UnixMode: mode},
		{Path: "link", Special: &model.Special{Type: "symlink", Target: "a.txt"}},
	}
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Create(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWriteFilesStats(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	stats, err := c.WriteFiles(ctx, testEntries())
	require.NoError(t, err)

	assert.EqualValues(t, 4, stats.FileCount)
	// the shared blob's extent counts once per referencing file
	assert.EqualValues(t, 5, stats.TotalExtents)
	assert.EqualValues(t, 3, stats.UniqueExtents)
	assert.EqualValues(t, 2*14+100+100, stats.TotalBytes)
	assert.EqualValues(t, 14+100+100, stats.UniqueBytes)
	assert.EqualValues(t, 100, stats.SparseBytes)
	assert.InDelta(t, 228.0/214.0, stats.DedupRatio(), 0.001)
	assert.EqualValues(t, 14, stats.SpaceSaved())
}

func TestWriteFilesDedupesSharedExtents(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	content := cas.HashBytes([]byte("dup"))
	blobA := &model.BlobInfo{
		ID: cas.HashBytes([]byte("file a")), Bytes: 10,
		Extents: []model.ExtentInfo{{ID: content, Offset: 0, Bytes: 10}},
	}
	blobB := &model.BlobInfo{
		ID: cas.HashBytes([]byte("file b")), Bytes: 10,
		Extents: []model.ExtentInfo{{ID: content, Offset: 0, Bytes: 10}},
	}

	stats, err := c.WriteFiles(ctx, []model.FileEntry{
		{Path: "a", Blob: blobA},
		{Path: "b", Blob: blobB},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, stats.UniqueExtents)
	assert.EqualValues(t, 2, stats.TotalExtents)
	assert.EqualValues(t, 20, stats.TotalBytes)
	assert.EqualValues(t, 10, stats.UniqueBytes)
	assert.EqualValues(t, 10, stats.SpaceSaved())
	assert.InDelta(t, 2.0, stats.DedupRatio(), 0.001)
	assert.InDelta(t, 50.0, stats.SpaceSavedPct(), 0.001)
}

func TestDescriptorRoundtrip(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	d := model.CatalogDescriptor{
		Version:    model.CurrentCatalogVersion,
		ID:         uuid.New(),
		MachineID:  "machine-1",
		TreeHash:   cas.HashBytes([]byte("tree")),
		Timestamp:  time.Now().Truncate(time.Millisecond).UTC(),
		Name:       "nightly",
		SourcePath: "/srv/data",
		FsType:     "btrfs",
	}
	require.NoError(t, c.WriteDescriptor(ctx, d))

	got, err := c.Descriptor(ctx)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestBlobLayoutRoundtrip(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	entries := testEntries()
	_, err := c.WriteFiles(ctx, entries)
	require.NoError(t, err)

	sparseID := entries[2].Blob.ID
	total, extents, err := c.BlobLayout(ctx, sparseID)
	require.NoError(t, err)
	assert.EqualValues(t, 300, total)
	require.Len(t, extents, 3)
	assert.False(t, extents[0].Sparse)
	assert.True(t, extents[1].Sparse)
	assert.True(t, extents[1].ID.IsZero())
	assert.False(t, extents[2].Sparse)
}

func TestExtentsAndFilesByBlob(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	entries := testEntries()
	_, err := c.WriteFiles(ctx, entries)
	require.NoError(t, err)

	keys, err := c.Extents(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	byBlob, err := c.FilesByBlob(ctx)
	require.NoError(t, err)
	require.Len(t, byBlob, 2)
	// the first file carrying the shared blob is the representative
	assert.Equal(t, "a.txt", byBlob[entries[0].Blob.ID])
}

func TestTreeEntriesExcludeSpecialFiles(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	_, err := c.WriteFiles(ctx, testEntries())
	require.NoError(t, err)

	paths, blobs, sizes, err := c.TreeEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
	assert.Len(t, blobs, 3)
	assert.Len(t, sizes, 3)
	assert.NotContains(t, paths, "link")
}
