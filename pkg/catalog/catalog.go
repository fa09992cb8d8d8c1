// Package catalog persists one snapshot's complete index to a relational
// SQLite store: files, their blob references, the extent map of every blob
// and the snapshot's descriptor metadata. A catalog is written once during
// a snapshot build and read-only afterwards.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/errors"
	"github.com/cairnstore/cairn/pkg/model"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // database/sql driver
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extents (
    extent_id BLOB PRIMARY KEY,
    bytes INTEGER NOT NULL CHECK(bytes > 0)
);

CREATE TABLE IF NOT EXISTS blobs (
    blob_id BLOB PRIMARY KEY,
    bytes INTEGER NOT NULL,
    extents INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blob_extents (
    blob_id BLOB NOT NULL,
    extent_id BLOB,
    offset INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    PRIMARY KEY (blob_id, offset)
);
CREATE INDEX IF NOT EXISTS idx_blob_extents_blob ON blob_extents(blob_id);
CREATE INDEX IF NOT EXISTS idx_blob_extents_extent ON blob_extents(extent_id);

CREATE TABLE IF NOT EXISTS files (
    file_id INTEGER PRIMARY KEY AUTOINCREMENT,
    path BLOB NOT NULL,
    blob_id BLOB,
    ts_created INTEGER,
    ts_changed INTEGER,
    ts_modified INTEGER,
    ts_accessed INTEGER,
    attributes TEXT,
    unix_mode INTEGER,
    unix_owner_id INTEGER,
    unix_owner_name TEXT,
    unix_group_id INTEGER,
    unix_group_name TEXT,
    special TEXT,
    fs_inode INTEGER,
    extra TEXT
);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_files_blob ON files(blob_id);
`

// metadata keys
const (
	metaVersion    = "version"
	metaCatalogID  = "catalog_id"
	metaMachineID  = "machine_id"
	metaTreeHash   = "tree_hash"
	metaCreatedAt  = "created_at"
	metaName       = "name"
	metaSourcePath = "source_path"
	metaFsType     = "fs_type"
)

// Stats summarizes a written catalog
type Stats struct {
	FileCount     int64
	TotalExtents  int64
	UniqueExtents int64
	TotalBytes    int64
	UniqueBytes   int64
	SparseBytes   int64
}

// DedupRatio is total over unique stored bytes
func (s Stats) DedupRatio() float64 {
	if s.UniqueBytes > 0 {
		return float64(s.TotalBytes) / float64(s.UniqueBytes)
	}
	return 1.0
}

// SpaceSaved is the byte count avoided by deduplication
func (s Stats) SpaceSaved() int64 {
	if saved := s.TotalBytes - s.UniqueBytes; saved > 0 {
		return saved
	}
	return 0
}

// SpaceSavedPct is SpaceSaved as a percentage of total bytes
func (s Stats) SpaceSavedPct() float64 {
	if s.TotalBytes > 0 {
		return float64(s.SpaceSaved()) / float64(s.TotalBytes) * 100.0
	}
	return 0
}

// Catalog wraps one snapshot's SQLite store
type Catalog struct {
	db *sql.DB
}

// Create opens (creating if needed) a catalog store and ensures its schema
func Create(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New("opening catalog store").Wrap(err)
	}
	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.New("creating catalog schema").Wrap(err)
	}
	return &Catalog{db: db}, nil
}

// Open opens an existing catalog store without touching its schema
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New("opening catalog store").Wrap(err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying store
func (c *Catalog) Close() error {
	return c.db.Close()
}

// WriteDescriptor records the snapshot's identifying metadata
func (c *Catalog) WriteDescriptor(ctx context.Context, d model.CatalogDescriptor) error {
	rows := map[string]string{
		metaVersion:   strconv.Itoa(d.Version),
		metaCatalogID: d.ID.String(),
		metaMachineID: d.MachineID,
		metaTreeHash:  d.TreeHash.String(),
		metaCreatedAt: strconv.FormatInt(d.Timestamp.UnixMilli(), 10),
	}
	if d.Name != "" {
		rows[metaName] = d.Name
	}
	if d.SourcePath != "" {
		rows[metaSourcePath] = d.SourcePath
	}
	if d.FsType != "" {
		rows[metaFsType] = d.FsType
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for k, v := range rows {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, k, v); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Descriptor reads the snapshot's identifying metadata back
func (c *Catalog) Descriptor(ctx context.Context) (model.CatalogDescriptor, error) {
	var d model.CatalogDescriptor

	rows, err := c.db.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return d, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err = rows.Scan(&k, &v); err != nil {
			return d, err
		}
		meta[k] = v
	}
	if err = rows.Err(); err != nil {
		return d, err
	}

	if d.Version, err = strconv.Atoi(meta[metaVersion]); err != nil {
		return d, fmt.Errorf("malformed catalog version %q", meta[metaVersion])
	}
	if d.ID, err = uuid.Parse(meta[metaCatalogID]); err != nil {
		return d, fmt.Errorf("malformed catalog id %q", meta[metaCatalogID])
	}
	if d.TreeHash, err = cas.KeyFromString(meta[metaTreeHash]); err != nil {
		return d, fmt.Errorf("malformed tree hash %q", meta[metaTreeHash])
	}
	millis, err := strconv.ParseInt(meta[metaCreatedAt], 10, 64)
	if err != nil {
		return d, fmt.Errorf("malformed creation time %q", meta[metaCreatedAt])
	}
	d.Timestamp = time.UnixMilli(millis).UTC()
	d.MachineID = meta[metaMachineID]
	d.Name = meta[metaName]
	d.SourcePath = meta[metaSourcePath]
	d.FsType = meta[metaFsType]
	return d, nil
}

// WriteFiles records the snapshot's file set, deduplicating blobs and
// extents before insert, in a single transaction.
func (c *Catalog) WriteFiles(ctx context.Context, files []model.FileEntry) (Stats, error) {
	// only the first occurrence of each blob is materialized; within a
	// blob, extents are deduplicated by offset
	type blobRecord struct {
		bytes   uint64
		extents []model.ExtentInfo
	}
	seen := make(map[cas.Key]blobRecord, len(files))
	order := make([]cas.Key, 0, len(files))
	for i := range files {
		b := files[i].Blob
		if b == nil {
			continue
		}
		if _, ok := seen[b.ID]; ok {
			continue
		}
		byOffset := make(map[uint64]model.ExtentInfo, len(b.Extents))
		deduped := make([]model.ExtentInfo, 0, len(b.Extents))
		for _, e := range b.Extents {
			if _, dup := byOffset[e.Offset]; dup {
				continue
			}
			byOffset[e.Offset] = e
			deduped = append(deduped, e)
		}
		seen[b.ID] = blobRecord{bytes: b.Bytes, extents: deduped}
		order = append(order, b.ID)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	rollback := func(err error) (Stats, error) {
		_ = tx.Rollback()
		return Stats{}, errors.New("writing catalog files").Wrap(err)
	}

	for _, blobID := range order {
		rec := seen[blobID]
		for _, e := range rec.extents {
			if e.Sparse {
				continue
			}
			if _, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO extents (extent_id, bytes) VALUES (?, ?)`,
				e.ID[:], int64(e.Bytes)); err != nil {
				return rollback(err)
			}
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO blobs (blob_id, bytes, extents) VALUES (?, ?, ?)`,
			blobID[:], int64(rec.bytes), int64(len(rec.extents))); err != nil {
			return rollback(err)
		}
		for _, e := range rec.extents {
			var extentID interface{}
			if !e.Sparse {
				extentID = e.ID[:]
			}
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO blob_extents (blob_id, extent_id, offset, bytes) VALUES (?, ?, ?, ?)`,
				blobID[:], extentID, int64(e.Offset), int64(e.Bytes)); err != nil {
				return rollback(err)
			}
		}
	}

	for i := range files {
		f := &files[i]
		var blobID interface{}
		if f.Blob != nil {
			blobID = f.Blob.ID[:]
		}
		var special interface{}
		if f.Special != nil {
			b, merr := json.Marshal(f.Special)
			if merr != nil {
				return rollback(merr)
			}
			special = string(b)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO files (
			    path, blob_id, ts_created, ts_changed, ts_modified, ts_accessed,
			    unix_mode, unix_owner_id, unix_owner_name, unix_group_id, unix_group_name,
			    special, fs_inode
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			[]byte(f.Path), blobID,
			nullableInt64(f.TsCreated), nullableInt64(f.TsChanged),
			nullableInt64(f.TsModified), nullableInt64(f.TsAccessed),
			nullableUint32(f.UnixMode), nullableUint32(f.UnixOwnerID), nullableString(f.UnixOwnerName),
			nullableUint32(f.UnixGroupID), nullableString(f.UnixGroupName),
			special, nullableUint64(f.FsInode)); err != nil {
			return rollback(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Stats{}, err
	}
	return c.stats(ctx)
}

func (c *Catalog) stats(ctx context.Context) (Stats, error) {
	var s Stats
	queries := []struct {
		dst *int64
		q   string
	}{
		// totals are per file reference, so files sharing one blob count
		// its extents once each; uniques are per stored object
		{&s.FileCount, `SELECT COUNT(*) FROM files`},
		{&s.TotalExtents, `SELECT COUNT(*) FROM files f
			JOIN blob_extents be ON be.blob_id = f.blob_id`},
		{&s.UniqueExtents, `SELECT COUNT(*) FROM extents`},
		{&s.TotalBytes, `SELECT COALESCE(SUM(be.bytes), 0) FROM files f
			JOIN blob_extents be ON be.blob_id = f.blob_id
			WHERE be.extent_id IS NOT NULL`},
		{&s.UniqueBytes, `SELECT COALESCE(SUM(bytes), 0) FROM extents`},
		{&s.SparseBytes, `SELECT COALESCE(SUM(be.bytes), 0) FROM files f
			JOIN blob_extents be ON be.blob_id = f.blob_id
			WHERE be.extent_id IS NULL`},
	}
	for _, query := range queries {
		if err := c.db.QueryRowContext(ctx, query.q).Scan(query.dst); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}

// Stats recomputes summary statistics for an existing catalog
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	return c.stats(ctx)
}

// Extents lists every distinct extent key recorded in the catalog
func (c *Catalog) Extents(ctx context.Context) ([]cas.Key, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT extent_id FROM extents ORDER BY extent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []cas.Key
	for rows.Next() {
		var raw []byte
		if err = rows.Scan(&raw); err != nil {
			return nil, err
		}
		k, kerr := cas.NewKey(raw)
		if kerr != nil {
			return nil, kerr
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// BlobLayout reconstructs a blob's layout from its recorded extent map.
// Sparse rows (null extent id) are omitted: the layout format implies them.
func (c *Catalog) BlobLayout(ctx context.Context, blobID cas.Key) (totalBytes uint64, extents []model.ExtentInfo, err error) {
	if err = c.db.QueryRowContext(ctx,
		`SELECT bytes FROM blobs WHERE blob_id = ?`, blobID[:]).Scan(&totalBytes); err != nil {
		return 0, nil, err
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT extent_id, offset, bytes FROM blob_extents WHERE blob_id = ? ORDER BY offset`, blobID[:])
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		var offset, length int64
		if err = rows.Scan(&raw, &offset, &length); err != nil {
			return 0, nil, err
		}
		e := model.ExtentInfo{Offset: uint64(offset), Bytes: uint64(length)}
		if raw == nil {
			e.Sparse = true
		} else if e.ID, err = cas.NewKey(raw); err != nil {
			return 0, nil, err
		}
		extents = append(extents, e)
	}
	return totalBytes, extents, rows.Err()
}

// FilesByBlob returns one representative file path per distinct blob,
// letting an uploader re-read each blob's content from the source tree.
func (c *Catalog) FilesByBlob(ctx context.Context) (map[cas.Key]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT path, blob_id FROM files WHERE blob_id IS NOT NULL ORDER BY file_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make(map[cas.Key]string)
	for rows.Next() {
		var path, raw []byte
		if err = rows.Scan(&path, &raw); err != nil {
			return nil, err
		}
		k, kerr := cas.NewKey(raw)
		if kerr != nil {
			return nil, kerr
		}
		if _, ok := res[k]; !ok {
			res[k] = string(path)
		}
	}
	return res, rows.Err()
}

// TreeEntries lists the content-bearing files as tree hash input
func (c *Catalog) TreeEntries(ctx context.Context) (paths []string, blobs []cas.Key, sizes []uint64, err error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT f.path, f.blob_id, b.bytes FROM files f
		 JOIN blobs b ON b.blob_id = f.blob_id
		 WHERE f.blob_id IS NOT NULL`)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var path, raw []byte
		var size int64
		if err = rows.Scan(&path, &raw, &size); err != nil {
			return nil, nil, nil, err
		}
		k, kerr := cas.NewKey(raw)
		if kerr != nil {
			return nil, nil, nil, kerr
		}
		paths = append(paths, string(path))
		blobs = append(blobs, k)
		sizes = append(sizes, uint64(size))
	}
	return paths, blobs, sizes, rows.Err()
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableUint32(v *uint32) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableUint64(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
