package localfs

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/cairnstore/cairn/internal/rand"
	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/model"
	"github.com/cairnstore/cairn/pkg/storage"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t testing.TB) (storage.Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return New(fs), fs
}

func TestPutExtentCreated(t *testing.T) {
	bs, _ := setupStore(t)
	ctx := context.Background()

	content := []byte("this is the text")
	id := cas.HashBytes(content)

	created, err := bs.PutExtent(ctx, id, bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.True(t, created)

	rdr, err := bs.GetExtent(ctx, id)
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, content, b)
}

func TestPutExtentIdempotent(t *testing.T) {
	bs, _ := setupStore(t)
	ctx := context.Background()

	content := rand.Bytes(256 * 1024)
	id := cas.HashBytes(content)

	created, err := bs.PutExtent(ctx, id, bytes.NewReader(content), 0)
	require.NoError(t, err)
	require.True(t, created)

	created, err = bs.PutExtent(ctx, id, bytes.NewReader(content), 0)
	require.NoError(t, err)
	assert.False(t, created)

	rdr, err := bs.GetExtent(ctx, id)
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, content, b)
}

func TestPutExtentHashMismatch(t *testing.T) {
	bs, fs := setupStore(t)
	ctx := context.Background()

	wrong := cas.HashBytes([]byte("something else"))

	_, err := bs.PutExtent(ctx, wrong, bytes.NewReader([]byte("hello")), 5)
	require.Error(t, err)
	var mismatch *storage.HashMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, wrong, mismatch.Expected)
	assert.Equal(t, cas.HashBytes([]byte("hello")), mismatch.Actual)

	// the failed put left no object and no staging artifact
	has, err := bs.HasExtent(ctx, wrong)
	require.NoError(t, err)
	assert.False(t, has)

	infos, err := afero.ReadDir(fs, putStageName)
	if err == nil {
		assert.Empty(t, infos)
	}
}

func TestPutExtentCancelled(t *testing.T) {
	bs, fs := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	content := rand.Bytes(1024)
	id := cas.HashBytes(content)

	_, err := bs.PutExtent(ctx, id, bytes.NewReader(content), 0)
	require.ErrorIs(t, err, context.Canceled)

	has, err := bs.HasExtent(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, has)

	infos, err := afero.ReadDir(fs, putStageName)
	if err == nil {
		assert.Empty(t, infos)
	}
}

func TestHasExtentsOrderAndDuplicates(t *testing.T) {
	bs, _ := setupStore(t)
	ctx := context.Background()

	present := []byte("present")
	a := cas.HashBytes(present)
	b := cas.HashBytes([]byte("absent"))

	_, err := bs.PutExtent(ctx, a, bytes.NewReader(present), 0)
	require.NoError(t, err)

	res, err := bs.HasExtents(ctx, []cas.Key{a, b, a})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, res)
}

func TestExtentMeta(t *testing.T) {
	bs, _ := setupStore(t)
	ctx := context.Background()

	content := rand.Bytes(4096)
	id := cas.HashBytes(content)
	_, err := bs.PutExtent(ctx, id, bytes.NewReader(content), 0)
	require.NoError(t, err)

	meta, err := bs.ExtentMeta(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, meta.Size)

	_, err = bs.ExtentMeta(ctx, cas.HashBytes([]byte("nope")))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetExtentNotFound(t *testing.T) {
	bs, _ := setupStore(t)

	_, err := bs.GetExtent(context.Background(), cas.HashBytes([]byte("nope")))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestShardedLayout(t *testing.T) {
	bs, fs := setupStore(t)
	ctx := context.Background()

	content := []byte("sharded")
	id := cas.HashBytes(content)
	_, err := bs.PutExtent(ctx, id, bytes.NewReader(content), 0)
	require.NoError(t, err)

	ok, err := afero.Exists(fs, model.ExtentKey(id))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBlobs(t *testing.T) {
	bs, _ := setupStore(t)
	ctx := context.Background()

	layout := rand.Bytes(66)
	id := cas.HashBytes([]byte("some blob"))

	created, err := bs.PutBlob(ctx, id, bytes.NewReader(layout), int64(len(layout)))
	require.NoError(t, err)
	require.True(t, created)

	created, err = bs.PutBlob(ctx, id, bytes.NewReader(layout), 0)
	require.NoError(t, err)
	assert.False(t, created)

	has, err := bs.HasBlob(ctx, id)
	require.NoError(t, err)
	assert.True(t, has)

	meta, err := bs.BlobMeta(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, len(layout), meta.Size)

	rdr, err := bs.GetBlob(ctx, id)
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, layout, b)
}

func TestCatalogs(t *testing.T) {
	bs, _ := setupStore(t)
	ctx := context.Background()

	ids, err := bs.ListCatalogs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	id := uuid.New()
	payload := rand.Bytes(2048)

	created, err := bs.PutCatalog(ctx, id, bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.True(t, created)

	// catalogs are create-once: a second put does not replace the object
	created, err = bs.PutCatalog(ctx, id, bytes.NewReader([]byte("other")), 0)
	require.NoError(t, err)
	assert.False(t, created)

	rdr, err := bs.GetCatalog(ctx, id)
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, payload, b)

	other := uuid.New()
	_, err = bs.PutCatalog(ctx, other, bytes.NewReader(payload), 0)
	require.NoError(t, err)

	ids, err = bs.ListCatalogs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{id, other}, ids)

	has, err := bs.HasCatalog(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, has)
}

func TestListCatalogsSkipsStrayFiles(t *testing.T) {
	bs, fs := setupStore(t)
	ctx := context.Background()

	id := uuid.New()
	_, err := bs.PutCatalog(ctx, id, bytes.NewReader(rand.Bytes(64)), 0)
	require.NoError(t, err)

	// files whose names do not parse as catalog keys are not listed
	require.NoError(t, afero.WriteFile(fs, "catalogs/.tmp-editor-swap", []byte("junk"), 0o600))

	ids, err := bs.ListCatalogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
}

func TestString(t *testing.T) {
	bs, _ := setupStore(t)
	assert.Equal(t, "localfs", bs.String())
}
