package model

import (
	"encoding/hex"
	"fmt"
	"path"

	"github.com/cairnstore/cairn/pkg/cas"

	"github.com/google/uuid"
)

// Object store layout. Content-addressed objects are sharded under two
// levels of subdirectories derived from the first two bytes of the hex key,
// which bounds per-directory entry counts:
//
//	extents/ab/cd/<remaining 60 hex chars>
//	blobs/ab/cd/<remaining 60 hex chars>
//	catalogs/<32 hex chars of the catalog uuid>

func shardedKey(prefix string, id cas.Key) string {
	h := id.String()
	return path.Join(prefix, h[0:2], h[2:4], h[4:])
}

// ExtentKey is the storage key of an extent object
func ExtentKey(id cas.Key) string {
	return shardedKey("extents", id)
}

// BlobKey is the storage key of a blob layout object
func BlobKey(id cas.Key) string {
	return shardedKey("blobs", id)
}

// CatalogKey is the storage key of a catalog object. Catalogs are keyed by
// a random identifier, not a content hash, so they are not sharded.
func CatalogKey(id uuid.UUID) string {
	return path.Join("catalogs", hex.EncodeToString(id[:]))
}

// ParseCatalogKey recovers the catalog id from a storage key
func ParseCatalogKey(key string) (uuid.UUID, error) {
	base := path.Base(key)
	if path.Dir(key) != "catalogs" {
		return uuid.Nil, fmt.Errorf("%q is not a catalog key", key)
	}
	return uuid.Parse(base)
}
