// Package build turns a source tree into a snapshot: it walks the tree,
// chunks regular files into extents, computes the snapshot's tree hash and
// writes the resulting catalog. Its uploader pushes the snapshot's objects
// to a remote store over HTTP.
package build

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/catalog"
	"github.com/cairnstore/cairn/pkg/errors"
	"github.com/cairnstore/cairn/pkg/extent"
	"github.com/cairnstore/cairn/pkg/model"
	"github.com/cairnstore/cairn/pkg/tree"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Builder collects one snapshot from a source tree
type Builder struct {
	fs        afero.Fs
	root      string
	src       extent.Source
	log       *zap.Logger
	machineID string
	name      string
	fsType    string

	users  map[uint32]string
	groups map[uint32]string
}

// Option modifies the builder's defaults
type Option func(*Builder)

// WithSource sets the extent range provider
func WithSource(src extent.Source) Option {
	return func(b *Builder) { b.src = src }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.log = l }
}

// WithName labels the snapshot
func WithName(name string) Option {
	return func(b *Builder) { b.name = name }
}

// WithFsType records the source filesystem type
func WithFsType(fsType string) Option {
	return func(b *Builder) { b.fsType = fsType }
}

// WithMachineID overrides the host machine id
func WithMachineID(id string) Option {
	return func(b *Builder) { b.machineID = id }
}

// NewBuilder prepares a snapshot build over the tree rooted at root within fs
func NewBuilder(fs afero.Fs, root string, opts ...Option) *Builder {
	b := &Builder{
		fs:     fs,
		root:   root,
		src:    extent.Fallback{},
		log:    zap.NewNop(),
		users:  make(map[uint32]string),
		groups: make(map[uint32]string),
	}
	for _, apply := range opts {
		apply(b)
	}
	if b.machineID == "" {
		b.machineID = MachineID()
	}
	return b
}

// Result describes a finished snapshot build
type Result struct {
	CatalogID   uuid.UUID
	TreeHash    cas.Key
	CatalogPath string
	Stats       catalog.Stats
}

// Build walks the source tree and writes the snapshot catalog to
// catalogPath. The context is checked between files, not mid-file.
func (b *Builder) Build(ctx context.Context, catalogPath string) (*Result, error) {
	files, err := b.collect(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]tree.Entry, 0, len(files))
	for i := range files {
		f := &files[i]
		if !f.HasContent() {
			continue
		}
		entries = append(entries, tree.Entry{Path: f.Path, Blob: f.Blob.ID, Bytes: f.Blob.Bytes})
	}
	treeHash := tree.Hash(entries)

	cat, err := catalog.Create(catalogPath)
	if err != nil {
		return nil, err
	}
	defer cat.Close()

	res := &Result{
		CatalogID:   uuid.New(),
		TreeHash:    treeHash,
		CatalogPath: catalogPath,
	}
	desc := model.CatalogDescriptor{
		Version:    model.CurrentCatalogVersion,
		ID:         res.CatalogID,
		MachineID:  b.machineID,
		TreeHash:   treeHash,
		Timestamp:  time.Now().Truncate(time.Millisecond).UTC(),
		Name:       b.name,
		SourcePath: b.root,
		FsType:     b.fsType,
	}
	if err = cat.WriteDescriptor(ctx, desc); err != nil {
		return nil, err
	}
	if res.Stats, err = cat.WriteFiles(ctx, files); err != nil {
		return nil, err
	}

	b.log.Info("snapshot built",
		zap.String("catalog_id", res.CatalogID.String()),
		zap.String("tree_hash", treeHash.String()),
		zap.Int64("files", res.Stats.FileCount),
		zap.Int64("unique_bytes", res.Stats.UniqueBytes),
	)
	return res, nil
}

// collect walks the tree and produces one entry per node, sorted by path
func (b *Builder) collect(ctx context.Context) ([]model.FileEntry, error) {
	var files []model.FileEntry

	walkErr := afero.Walk(b.fs, b.root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel, rerr := filepath.Rel(b.root, path)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}
		entry, eerr := b.entryFor(path, filepath.ToSlash(rel), fi)
		if eerr != nil {
			return eerr
		}
		files = append(files, *entry)
		return nil
	})
	if walkErr != nil {
		return nil, errors.New("walking source tree").Wrap(walkErr)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (b *Builder) entryFor(path, rel string, fi os.FileInfo) (*model.FileEntry, error) {
	e := &model.FileEntry{Path: rel}
	mtime := fi.ModTime().UnixMilli()
	e.TsModified = &mtime
	fillSysMeta(fi, e)
	b.fillNames(e)

	switch {
	case fi.Mode().IsRegular():
		f, err := b.fs.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		blob, err := extent.BuildBlob(f, fi.Size(), b.src)
		if err != nil {
			return nil, errors.New("chunking " + rel).Wrap(err)
		}
		e.Blob = blob

	case fi.IsDir():
		e.Special = &model.Special{Type: "directory"}

	case fi.Mode()&os.ModeSymlink != 0:
		e.Special = &model.Special{Type: "symlink", Target: b.readlink(path)}

	default:
		e.Special = &model.Special{Type: "other"}
	}
	return e, nil
}

func (b *Builder) readlink(path string) string {
	lr, ok := b.fs.(afero.LinkReader)
	if !ok {
		return ""
	}
	target, err := lr.ReadlinkIfPossible(path)
	if err != nil {
		b.log.Debug("unreadable symlink", zap.String("path", path), zap.Error(err))
		return ""
	}
	return target
}

// fillNames resolves numeric owner and group ids to names, caching lookups
func (b *Builder) fillNames(e *model.FileEntry) {
	if e.UnixOwnerID != nil {
		uid := *e.UnixOwnerID
		name, ok := b.users[uid]
		if !ok {
			if u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10)); err == nil {
				name = u.Username
			}
			b.users[uid] = name
		}
		e.UnixOwnerName = name
	}
	if e.UnixGroupID != nil {
		gid := *e.UnixGroupID
		name, ok := b.groups[gid]
		if !ok {
			if g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10)); err == nil {
				name = g.Name
			}
			b.groups[gid] = name
		}
		e.UnixGroupName = name
	}
}
