// Package model defines the data model shared by the snapshot builder, the
// catalog store and the object storage layout.
package model

import (
	"time"

	"github.com/cairnstore/cairn/pkg/cas"

	"github.com/google/uuid"
)

// CurrentCatalogVersion is the protocol version written to new catalogs
const CurrentCatalogVersion = 1

// CatalogDescriptor identifies one snapshot catalog.
type CatalogDescriptor struct {
	Version    int       `json:"version" yaml:"version"`
	ID         uuid.UUID `json:"id" yaml:"id"`
	MachineID  string    `json:"machineId" yaml:"machineId"`
	TreeHash   cas.Key   `json:"treeHash" yaml:"treeHash"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	SourcePath string    `json:"sourcePath,omitempty" yaml:"sourcePath,omitempty"`
	FsType     string    `json:"fsType,omitempty" yaml:"fsType,omitempty"`
	_          struct{}
}

// IndexEntry is one row of the best-effort cross-catalog index. The index
// is rebuildable from the set of stored catalogs and never authoritative.
type IndexEntry struct {
	CatalogID uuid.UUID `json:"catalogId" yaml:"catalogId"`
	MachineID string    `json:"machineId" yaml:"machineId"`
	TreeHash  cas.Key   `json:"treeHash" yaml:"treeHash"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	_         struct{}
}

// ExtentInfo is one contiguous range of a file, either backed by a
// content-addressed extent or sparse.
type ExtentInfo struct {
	ID     cas.Key // zero when Sparse
	Offset uint64
	Bytes  uint64
	Sparse bool
	Shared bool
	// FsExtent groups subchunks carved out of the same filesystem extent
	FsExtent uint32
}

// BlobInfo describes one file's full content. ID is the hash of the
// complete concatenated content, so identical files share a blob no matter
// how their extents are laid out on disk.
type BlobInfo struct {
	ID      cas.Key
	Bytes   uint64
	Extents []ExtentInfo
}

// Special describes a file with no retrievable content
type Special struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// FileEntry is one catalog row: a normalized forward-slash path, an
// optional blob reference and restore metadata. Timestamps are unix millis.
type FileEntry struct {
	Path          string
	Blob          *BlobInfo
	TsCreated     *int64
	TsChanged     *int64
	TsModified    *int64
	TsAccessed    *int64
	UnixMode      *uint32
	UnixOwnerID   *uint32
	UnixOwnerName string
	UnixGroupID   *uint32
	UnixGroupName string
	FsInode       *uint64
	Special       *Special
}

// HasContent reports whether the entry carries retrievable content and
// therefore participates in the snapshot tree hash.
func (f *FileEntry) HasContent() bool {
	return f.Blob != nil
}
