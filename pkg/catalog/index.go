package catalog

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/errors"
	"github.com/cairnstore/cairn/pkg/model"
	"github.com/cairnstore/cairn/pkg/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS catalogs (
    catalog_id TEXT PRIMARY KEY,
    machine_id TEXT NOT NULL,
    tree_hash TEXT NOT NULL,
    name TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalogs_tree_hash ON catalogs(tree_hash);
CREATE INDEX IF NOT EXISTS idx_catalogs_machine ON catalogs(machine_id);
`

// Index is the best-effort cross-catalog lookup store. It is a cache over
// the set of stored catalogs: losing it loses nothing, Rebuild repopulates
// it from storage.
type Index struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenIndex opens (creating if needed) an index store
func OpenIndex(path string, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New("opening catalog index").Wrap(err)
	}
	if _, err = db.Exec(indexSchema); err != nil {
		_ = db.Close()
		return nil, errors.New("creating catalog index schema").Wrap(err)
	}
	return &Index{db: db, log: log}, nil
}

// Close releases the underlying store
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Add upserts one entry
func (ix *Index) Add(ctx context.Context, e model.IndexEntry) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO catalogs (catalog_id, machine_id, tree_hash, name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.CatalogID.String(), e.MachineID, e.TreeHash.String(),
		nullableString(e.Name), e.Timestamp.UnixMilli())
	return err
}

// List returns all entries, newest first
func (ix *Index) List(ctx context.Context) ([]model.IndexEntry, error) {
	return ix.query(ctx,
		`SELECT catalog_id, machine_id, tree_hash, name, created_at
		 FROM catalogs ORDER BY created_at DESC`)
}

// FindByTreeHash returns the entries whose snapshot content matches hash.
// A non-empty result lets an uploader skip re-uploading identical content.
func (ix *Index) FindByTreeHash(ctx context.Context, hash cas.Key) ([]model.IndexEntry, error) {
	return ix.query(ctx,
		`SELECT catalog_id, machine_id, tree_hash, name, created_at
		 FROM catalogs WHERE tree_hash = ? ORDER BY created_at DESC`, hash.String())
}

func (ix *Index) query(ctx context.Context, q string, args ...interface{}) ([]model.IndexEntry, error) {
	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.IndexEntry
	for rows.Next() {
		var (
			id, machine, hash string
			name              sql.NullString
			millis            int64
		)
		if err = rows.Scan(&id, &machine, &hash, &name, &millis); err != nil {
			return nil, err
		}
		var e model.IndexEntry
		if e.CatalogID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if e.TreeHash, err = cas.KeyFromString(hash); err != nil {
			return nil, err
		}
		e.MachineID = machine
		e.Name = name.String
		e.Timestamp = time.UnixMilli(millis).UTC()
		res = append(res, e)
	}
	return res, rows.Err()
}

// Rebuild repopulates the index from every catalog held in store. Catalogs
// that cannot be fetched or parsed are skipped with a log line: the index
// stays best-effort.
func (ix *Index) Rebuild(ctx context.Context, store storage.Store) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM catalogs`); err != nil {
		return err
	}

	ids, err := store.ListCatalogs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e, rerr := readEntry(ctx, store, id)
		if rerr != nil {
			ix.log.Warn("skipping unreadable catalog during index rebuild",
				zap.String("catalog_id", id.String()), zap.Error(rerr))
			continue
		}
		if err = ix.Add(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// readEntry pulls one catalog out of storage into a scratch file and reads
// its descriptor metadata.
func readEntry(ctx context.Context, store storage.Store, id uuid.UUID) (model.IndexEntry, error) {
	var entry model.IndexEntry

	rdr, err := store.GetCatalog(ctx, id)
	if err != nil {
		return entry, err
	}
	defer rdr.Close()

	scratch, err := os.CreateTemp("", "cairn-index-*.db")
	if err != nil {
		return entry, err
	}
	defer func() {
		_ = scratch.Close()
		_ = os.Remove(scratch.Name())
	}()

	if _, err = storage.PipeIO(scratch, rdr); err != nil {
		return entry, err
	}
	if err = scratch.Close(); err != nil {
		return entry, err
	}

	cat, err := Open(scratch.Name())
	if err != nil {
		return entry, err
	}
	defer cat.Close()

	d, err := cat.Descriptor(ctx)
	if err != nil {
		return entry, err
	}
	return model.IndexEntry{
		CatalogID: id,
		MachineID: d.MachineID,
		TreeHash:  d.TreeHash,
		Name:      d.Name,
		Timestamp: d.Timestamp,
	}, nil
}
