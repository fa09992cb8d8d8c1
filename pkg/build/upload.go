package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cairnstore/cairn/pkg/blob"
	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/catalog"
	"github.com/cairnstore/cairn/pkg/errors"
	"github.com/cairnstore/cairn/pkg/model"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// checkBatchSize caps the number of ids per existence query
const checkBatchSize = 1024

// headers carrying index metadata alongside a catalog upload
const (
	HeaderMachineID = "X-Cairn-Machine-ID"
	HeaderTreeHash  = "X-Cairn-Tree-Hash"
	HeaderName      = "X-Cairn-Name"
)

// Uploader pushes a built snapshot to a remote store over HTTP. Extents
// are re-read from the source tree, so the tree must not change between
// build and upload.
type Uploader struct {
	base   string
	fs     afero.Fs
	root   string
	client *http.Client
	log    *zap.Logger
}

// UploadOption modifies the uploader's defaults
type UploadOption func(*Uploader)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) UploadOption {
	return func(u *Uploader) { u.client = c }
}

// WithUploadLogger sets the logger
func WithUploadLogger(l *zap.Logger) UploadOption {
	return func(u *Uploader) { u.log = l }
}

// NewUploader targets the store at base, reading extent content back from
// the tree rooted at root within fs
func NewUploader(base string, fs afero.Fs, root string, opts ...UploadOption) *Uploader {
	u := &Uploader{
		base:   strings.TrimRight(base, "/"),
		fs:     fs,
		root:   root,
		client: &http.Client{Timeout: 5 * time.Minute},
		log:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(u)
	}
	return u
}

// UploadStats summarizes one upload run
type UploadStats struct {
	Skipped         bool
	ExtentsChecked  int
	ExtentsUploaded int
	BytesUploaded   int64
	BlobsUploaded   int
	CatalogCreated  bool
}

// Upload pushes the snapshot held in cat: missing extents first, then blob
// layouts, then the catalog file itself. A remote catalog with the same
// tree hash short-circuits the whole run.
func (u *Uploader) Upload(ctx context.Context, cat *catalog.Catalog, catalogPath string) (UploadStats, error) {
	var stats UploadStats

	desc, err := cat.Descriptor(ctx)
	if err != nil {
		return stats, errors.New("reading catalog descriptor").Wrap(err)
	}

	if u.treeHashKnown(ctx, desc.TreeHash) {
		u.log.Info("identical snapshot already stored, skipping upload",
			zap.String("tree_hash", desc.TreeHash.String()))
		stats.Skipped = true
		return stats, nil
	}

	keys, err := cat.Extents(ctx)
	if err != nil {
		return stats, err
	}
	stats.ExtentsChecked = len(keys)
	missing, err := u.missingExtents(ctx, keys)
	if err != nil {
		return stats, err
	}

	byBlob, err := cat.FilesByBlob(ctx)
	if err != nil {
		return stats, err
	}
	for blobID, path := range byBlob {
		total, extents, lerr := cat.BlobLayout(ctx, blobID)
		if lerr != nil {
			return stats, lerr
		}
		if err = u.uploadExtents(ctx, path, extents, missing, &stats); err != nil {
			return stats, err
		}
		created, perr := u.uploadLayout(ctx, blobID, total, extents)
		if perr != nil {
			return stats, perr
		}
		if created {
			stats.BlobsUploaded++
		}
	}

	if stats.CatalogCreated, err = u.uploadCatalog(ctx, desc, catalogPath); err != nil {
		return stats, err
	}

	u.log.Info("upload complete",
		zap.String("catalog_id", desc.ID.String()),
		zap.Int("extents_uploaded", stats.ExtentsUploaded),
		zap.Int64("bytes_uploaded", stats.BytesUploaded),
	)
	return stats, nil
}

// treeHashKnown asks the store's index for catalogs with this tree hash.
// Any failure answers false: the upload proceeds and stays correct.
func (u *Uploader) treeHashKnown(ctx context.Context, hash cas.Key) bool {
	q := url.Values{"tree_hash": {hash.String()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.base+"/catalogs?"+q.Encode(), nil)
	if err != nil {
		return false
	}
	resp, err := u.client.Do(req)
	if err != nil {
		u.log.Debug("tree hash lookup failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		Catalogs []string `json:"catalogs"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return len(body.Catalogs) > 0
}

// missingExtents batches existence checks and returns the set of absent ids
func (u *Uploader) missingExtents(ctx context.Context, keys []cas.Key) (map[cas.Key]bool, error) {
	missing := make(map[cas.Key]bool)
	for start := 0; start < len(keys); start += checkBatchSize {
		end := start + checkBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		ids := make([]string, len(batch))
		for i, k := range batch {
			ids[i] = k.String()
		}
		payload, err := json.Marshal(map[string][]string{"ids": ids})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			u.base+"/extents/check", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := u.client.Do(req)
		if err != nil {
			return nil, errors.New("checking extent existence").Wrap(err)
		}
		var body struct {
			Exists []bool `json:"exists"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, errors.New("checking extent existence").Wrap(err)
		}
		if resp.StatusCode != http.StatusOK || len(body.Exists) != len(batch) {
			return nil, fmt.Errorf("extent existence check failed with status %d", resp.StatusCode)
		}
		for i, ok := range body.Exists {
			if !ok {
				missing[batch[i]] = true
			}
		}
	}
	return missing, nil
}

// uploadExtents streams the missing extents of one blob out of its source
// file. Each uploaded id is removed from missing so blobs sharing extents
// do not upload them twice.
func (u *Uploader) uploadExtents(ctx context.Context, path string, extents []model.ExtentInfo, missing map[cas.Key]bool, stats *UploadStats) error {
	var f afero.File
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	for _, e := range extents {
		if e.Sparse || !missing[e.ID] {
			continue
		}
		if f == nil {
			var err error
			if f, err = u.fs.Open(filepath.Join(u.root, path)); err != nil {
				return errors.New("reopening source file " + path).Wrap(err)
			}
		}
		src := io.NewSectionReader(f, int64(e.Offset), int64(e.Bytes))
		if _, err := u.put(ctx, "/extents/"+e.ID.String(), src, int64(e.Bytes), nil); err != nil {
			return errors.New("uploading extent " + e.ID.String()).Wrap(err)
		}
		delete(missing, e.ID)
		stats.ExtentsUploaded++
		stats.BytesUploaded += int64(e.Bytes)
	}
	return nil
}

func (u *Uploader) uploadLayout(ctx context.Context, blobID cas.Key, total uint64, extents []model.ExtentInfo) (bool, error) {
	layout := blob.Layout{TotalBytes: total}
	for _, e := range extents {
		if e.Sparse {
			continue
		}
		layout.Extents = append(layout.Extents, blob.Extent{
			Offset: e.Offset,
			Length: e.Bytes,
			ID:     e.ID,
		})
	}
	encoded := layout.Encode()
	created, err := u.put(ctx, "/blobs/"+blobID.String(),
		bytes.NewReader(encoded), int64(len(encoded)), nil)
	if err != nil {
		return false, errors.New("uploading blob layout " + blobID.String()).Wrap(err)
	}
	return created, nil
}

func (u *Uploader) uploadCatalog(ctx context.Context, desc model.CatalogDescriptor, catalogPath string) (bool, error) {
	f, err := os.Open(catalogPath)
	if err != nil {
		return false, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}

	headers := map[string]string{
		HeaderMachineID: desc.MachineID,
		HeaderTreeHash:  desc.TreeHash.String(),
	}
	if desc.Name != "" {
		headers[HeaderName] = desc.Name
	}
	created, err := u.put(ctx, "/catalogs/"+desc.ID.String(), f, fi.Size(), headers)
	if err != nil {
		return false, errors.New("uploading catalog").Wrap(err)
	}
	return created, nil
}

// put issues one PUT and reports whether the object was created (201) as
// opposed to already present (200)
func (u *Uploader) put(ctx context.Context, path string, body io.Reader, length int64, headers map[string]string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.base+path, body)
	if err != nil {
		return false, err
	}
	req.ContentLength = length
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusOK:
		return false, nil
	}
	var body2 struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body2)
	if body2.Error != "" {
		if body2.Detail != "" {
			return false, fmt.Errorf("store rejected put (%d): %s: %s", resp.StatusCode, body2.Error, body2.Detail)
		}
		return false, fmt.Errorf("store rejected put (%d): %s", resp.StatusCode, body2.Error)
	}
	return false, fmt.Errorf("store rejected put with status %d", resp.StatusCode)
}
