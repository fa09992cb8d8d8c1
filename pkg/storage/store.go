package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cairnstore/cairn/pkg/cas"

	"github.com/google/uuid"
)

type errString string

func (e errString) Error() string { return string(e) }

const (
	// ErrNotFound is returned when the requested object does not exist
	ErrNotFound errString = "not found"

	// ErrInvalidData is returned for malformed identifiers or bodies
	ErrInvalidData errString = "invalid data"

	// ErrNotSupported is reserved for backends lacking an optional
	// operation, e.g. a remote store that cannot list catalogs. The
	// localfs backend supports the full contract and never returns it.
	ErrNotSupported errString = "not supported"
)

// HashMismatchError is returned by PutExtent when the streamed content does
// not hash to the key it was stored under. The store is left unchanged.
type HashMismatchError struct {
	Expected cas.Key
	Actual   cas.Key
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// ObjectMeta describes a stored object without transferring its data
type ObjectMeta struct {
	Size    int64
	Created time.Time
}

// Store is the persistence contract for the three object classes: extents,
// blobs and catalogs. Every write is atomic (a reader never observes
// partial content), verified where content-addressed, idempotent, and
// streamed so memory use stays bounded by a fixed chunk size.
//
// Implementations are interchangeable behind this interface; the local
// filesystem implementation in the localfs package is the reference.
type Store interface {
	String() string

	// PutExtent consumes src incrementally, hashing as bytes arrive, and
	// commits only if the computed hash equals id. It reports true when the
	// object was newly stored and false when an object already existed at
	// id, in which case src is drained and discarded. A verification
	// failure returns *HashMismatchError and leaves storage unchanged.
	// sizeHint (0 when unknown) only tunes buffering, never correctness.
	PutExtent(ctx context.Context, id cas.Key, src io.Reader, sizeHint int64) (bool, error)

	// GetExtent returns a lazy forward-only reader over the object's bytes
	GetExtent(ctx context.Context, id cas.Key) (io.ReadCloser, error)

	HasExtent(ctx context.Context, id cas.Key) (bool, error)

	// HasExtents answers presence for each id, preserving input order and
	// duplicates exactly.
	HasExtents(ctx context.Context, ids []cas.Key) ([]bool, error)

	ExtentMeta(ctx context.Context, id cas.Key) (ObjectMeta, error)

	// PutBlob stores already-encoded blob layout bytes. The layout codec's
	// own validation suffices: no hash re-verification happens here.
	PutBlob(ctx context.Context, id cas.Key, src io.Reader, sizeHint int64) (bool, error)
	GetBlob(ctx context.Context, id cas.Key) (io.ReadCloser, error)
	HasBlob(ctx context.Context, id cas.Key) (bool, error)
	BlobMeta(ctx context.Context, id cas.Key) (ObjectMeta, error)

	// Catalogs are keyed by a random identifier, not a content hash.
	// PutCatalog is create-once: an existing id reports false and the
	// stored object is untouched.
	PutCatalog(ctx context.Context, id uuid.UUID, src io.Reader, sizeHint int64) (bool, error)
	GetCatalog(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)
	HasCatalog(ctx context.Context, id uuid.UUID) (bool, error)
	CatalogMeta(ctx context.Context, id uuid.UUID) (ObjectMeta, error)
	ListCatalogs(ctx context.Context) ([]uuid.UUID, error)
}
