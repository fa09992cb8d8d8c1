// Package localfs implements the storage contract on a local file system.
//
// Objects are laid out per the model package: content-addressed objects
// under two levels of hex shard directories, catalogs under their random
// identifier. Writes land in a staging area and are renamed into place, so
// a concurrent reader never observes partial content and a cancelled write
// leaves no trace.
package localfs

import (
	"context"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/cairnstore/cairn/internal/rand"
	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/model"
	"github.com/cairnstore/cairn/pkg/storage"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	putStageName = ".put-stage"

	maxBufferSize = 1024 * 1024
)

// New creates a local file system backed object store. When fs is nil the
// store is rooted at .cairn/objects under the working directory.
func New(fs afero.Fs) storage.Store {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".cairn", "objects"))
	}
	return &localFS{fs: fs}
}

type localFS struct {
	fs afero.Fs
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}

func (l *localFS) has(key string) (bool, error) {
	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

func (l *localFS) get(key string) (io.ReadCloser, error) {
	ok, err := l.has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return l.fs.Open(key)
}

func (l *localFS) meta(key string) (storage.ObjectMeta, error) {
	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ObjectMeta{}, storage.ErrNotFound
		}
		return storage.ObjectMeta{}, err
	}
	if fi.IsDir() {
		return storage.ObjectMeta{}, storage.ErrNotFound
	}
	return storage.ObjectMeta{Size: fi.Size(), Created: fi.ModTime()}, nil
}

func bufferFor(sizeHint int64) []byte {
	n := int64(storage.ChunkSize)
	if sizeHint > 0 && sizeHint < n {
		n = sizeHint
	} else if sizeHint > maxBufferSize {
		n = maxBufferSize
	}
	return make([]byte, n)
}

// put streams src into a staging file, then renames it to key. When hasher
// is non-nil the computed key must equal want before commit. Returns false
// without consuming storage when the object already exists.
func (l *localFS) put(ctx context.Context, key string, src io.Reader, sizeHint int64, hasher hash.Hash, want cas.Key) (bool, error) {
	ok, err := l.has(key)
	if err != nil {
		return false, err
	}
	if ok {
		// content addressing makes the duplicate stream redundant
		if err = storage.Drain(src); err != nil {
			return false, err
		}
		return false, nil
	}

	if err = l.fs.MkdirAll(putStageName, 0700); err != nil {
		return false, err
	}
	stageKey := filepath.Join(putStageName, rand.LetterString(16))
	stage, err := l.fs.OpenFile(stageKey, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return false, err
	}

	discard := func() {
		_ = stage.Close()
		_ = l.fs.Remove(stageKey)
	}

	buf := bufferFor(sizeHint)
	for {
		if err = ctx.Err(); err != nil {
			discard()
			return false, err
		}
		var n int
		n, err = src.Read(buf)
		if n > 0 {
			if hasher != nil {
				_, _ = hasher.Write(buf[:n])
			}
			if _, werr := stage.Write(buf[:n]); werr != nil {
				discard()
				return false, werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			discard()
			return false, err
		}
	}

	if err = stage.Close(); err != nil {
		_ = l.fs.Remove(stageKey)
		return false, err
	}

	if hasher != nil {
		actual := cas.KeyFromHasher(hasher)
		if actual != want {
			_ = l.fs.Remove(stageKey)
			return false, &storage.HashMismatchError{Expected: want, Actual: actual}
		}
	}

	if dir := filepath.Dir(key); dir != "" {
		if err = l.fs.MkdirAll(dir, 0700); err != nil {
			_ = l.fs.Remove(stageKey)
			return false, err
		}
	}

	// two writers of one id race here; either rename outcome is correct
	// because identical ids address identical content
	ok, err = l.has(key)
	if err == nil && ok {
		_ = l.fs.Remove(stageKey)
		return false, nil
	}
	if err = l.fs.Rename(stageKey, key); err != nil {
		_ = l.fs.Remove(stageKey)
		return false, err
	}
	return true, nil
}

func (l *localFS) PutExtent(ctx context.Context, id cas.Key, src io.Reader, sizeHint int64) (bool, error) {
	return l.put(ctx, model.ExtentKey(id), src, sizeHint, cas.NewHasher(), id)
}

func (l *localFS) GetExtent(ctx context.Context, id cas.Key) (io.ReadCloser, error) {
	return l.get(model.ExtentKey(id))
}

func (l *localFS) HasExtent(ctx context.Context, id cas.Key) (bool, error) {
	return l.has(model.ExtentKey(id))
}

func (l *localFS) HasExtents(ctx context.Context, ids []cas.Key) ([]bool, error) {
	res := make([]bool, 0, len(ids))
	for _, id := range ids {
		ok, err := l.has(model.ExtentKey(id))
		if err != nil {
			return nil, err
		}
		res = append(res, ok)
	}
	return res, nil
}

func (l *localFS) ExtentMeta(ctx context.Context, id cas.Key) (storage.ObjectMeta, error) {
	return l.meta(model.ExtentKey(id))
}

func (l *localFS) PutBlob(ctx context.Context, id cas.Key, src io.Reader, sizeHint int64) (bool, error) {
	// layouts were validated by the blob codec already: no re-verification
	return l.put(ctx, model.BlobKey(id), src, sizeHint, nil, cas.Key{})
}

func (l *localFS) GetBlob(ctx context.Context, id cas.Key) (io.ReadCloser, error) {
	return l.get(model.BlobKey(id))
}

func (l *localFS) HasBlob(ctx context.Context, id cas.Key) (bool, error) {
	return l.has(model.BlobKey(id))
}

func (l *localFS) BlobMeta(ctx context.Context, id cas.Key) (storage.ObjectMeta, error) {
	return l.meta(model.BlobKey(id))
}

func (l *localFS) PutCatalog(ctx context.Context, id uuid.UUID, src io.Reader, sizeHint int64) (bool, error) {
	return l.put(ctx, model.CatalogKey(id), src, sizeHint, nil, cas.Key{})
}

func (l *localFS) GetCatalog(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	return l.get(model.CatalogKey(id))
}

func (l *localFS) HasCatalog(ctx context.Context, id uuid.UUID) (bool, error) {
	return l.has(model.CatalogKey(id))
}

func (l *localFS) CatalogMeta(ctx context.Context, id uuid.UUID) (storage.ObjectMeta, error) {
	return l.meta(model.CatalogKey(id))
}

func (l *localFS) ListCatalogs(ctx context.Context) ([]uuid.UUID, error) {
	infos, err := afero.ReadDir(l.fs, "catalogs")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		// stray files that do not parse as catalog keys are ignored
		id, perr := model.ParseCatalogKey(path.Join("catalogs", fi.Name()))
		if perr != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
