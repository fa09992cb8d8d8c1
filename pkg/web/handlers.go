package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/errors"
	"github.com/cairnstore/cairn/pkg/model"
	"github.com/cairnstore/cairn/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// objectOps binds one content-addressed resource family to its backend
// operations. Extents and blobs share every handler through it.
type objectOps struct {
	name string
	put  func(context.Context, cas.Key, io.Reader, int64) (bool, error)
	get  func(context.Context, cas.Key) (io.ReadCloser, error)
	meta func(context.Context, cas.Key) (storage.ObjectMeta, error)
}

func (s *Server) objectRoutes(r chi.Router, ops objectOps) {
	r.Get("/{id}", s.getObject(ops))
	r.Head("/{id}", s.headObject(ops))
	r.Put("/{id}", s.putObject(ops))
}

// parseKey turns the id path segment into a key, answering 400 itself on
// malformed input
func parseKey(w http.ResponseWriter, r *http.Request) (cas.Key, bool) {
	id, err := cas.KeyFromString(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed object id", err.Error())
		return cas.Key{}, false
	}
	return id, true
}

// storeError maps backend failures onto the API's status codes. IO details
// never reach the response body.
func (s *Server) storeError(w http.ResponseWriter, kind string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, kind+" not found", "")
	case errors.Is(err, storage.ErrInvalidData):
		writeError(w, http.StatusBadRequest, "invalid data", "")
	default:
		var mismatch *storage.HashMismatchError
		if errors.As(err, &mismatch) {
			writeError(w, http.StatusBadRequest, "hash mismatch",
				"expected "+mismatch.Expected.String()+", got "+mismatch.Actual.String())
			return
		}
		s.log.Error("storage failure", zap.String("kind", kind), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func (s *Server) getObject(ops objectOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseKey(w, r)
		if !ok {
			return
		}
		meta, err := ops.meta(r.Context(), id)
		if err != nil {
			s.storeError(w, ops.name, err)
			return
		}
		rdr, err := ops.get(r.Context(), id)
		if err != nil {
			s.storeError(w, ops.name, err)
			return
		}
		defer rdr.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		if _, err = storage.PipeIO(w, rdr); err != nil {
			// headers are gone, nothing to do but note it
			s.log.Warn("interrupted object download",
				zap.String("kind", ops.name), zap.String("id", id.String()), zap.Error(err))
		}
	}
}

func (s *Server) headObject(ops objectOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseKey(w, r)
		if !ok {
			return
		}
		meta, err := ops.meta(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) putObject(ops objectOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseKey(w, r)
		if !ok {
			return
		}
		created, err := ops.put(r.Context(), id, r.Body, r.ContentLength)
		if err != nil {
			s.storeError(w, ops.name, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]bool{"created": created})
	}
}

// checkExtents answers a batch existence query, preserving request order
// and duplicates
func (s *Server) checkExtents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err.Error())
		return
	}
	ids := make([]cas.Key, len(req.IDs))
	for i, raw := range req.IDs {
		id, err := cas.KeyFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed object id", raw)
			return
		}
		ids[i] = id
	}
	exists, err := s.store.HasExtents(r.Context(), ids)
	if err != nil {
		s.storeError(w, "extent", err)
		return
	}
	if exists == nil {
		exists = []bool{}
	}
	writeJSON(w, http.StatusOK, map[string][]bool{"exists": exists})
}

func parseCatalogID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed catalog id", err.Error())
		return uuid.UUID{}, false
	}
	return id, true
}

// listCatalogs lists stored catalog ids. With a tree_hash query parameter
// it answers from the index instead, empty when no index is attached.
func (s *Server) listCatalogs(w http.ResponseWriter, r *http.Request) {
	ids := []string{}

	if hash := r.URL.Query().Get("tree_hash"); hash != "" {
		key, err := cas.KeyFromString(hash)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed tree hash", err.Error())
			return
		}
		if s.index != nil {
			matches, err := s.index.FindByTreeHash(r.Context(), key)
			if err != nil {
				s.log.Error("index lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error", "")
				return
			}
			for _, m := range matches {
				ids = append(ids, m.CatalogID.String())
			}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"catalogs": ids})
		return
	}

	stored, err := s.store.ListCatalogs(r.Context())
	if err != nil {
		s.storeError(w, "catalog", err)
		return
	}
	for _, id := range stored {
		ids = append(ids, id.String())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"catalogs": ids})
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCatalogID(w, r)
	if !ok {
		return
	}
	meta, err := s.store.CatalogMeta(r.Context(), id)
	if err != nil {
		s.storeError(w, "catalog", err)
		return
	}
	rdr, err := s.store.GetCatalog(r.Context(), id)
	if err != nil {
		s.storeError(w, "catalog", err)
		return
	}
	defer rdr.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if _, err = storage.PipeIO(w, rdr); err != nil {
		s.log.Warn("interrupted catalog download",
			zap.String("id", id.String()), zap.Error(err))
	}
}

func (s *Server) headCatalog(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCatalogID(w, r)
	if !ok {
		return
	}
	meta, err := s.store.CatalogMeta(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.WriteHeader(http.StatusOK)
}

// putCatalog stores a catalog, create-once. On creation, metadata headers
// feed the index best-effort.
func (s *Server) putCatalog(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCatalogID(w, r)
	if !ok {
		return
	}
	created, err := s.store.PutCatalog(r.Context(), id, r.Body, r.ContentLength)
	if err != nil {
		s.storeError(w, "catalog", err)
		return
	}
	if created {
		s.updateIndex(r, id)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"created": created})
}

// updateIndex records the uploaded catalog when the request carried index
// metadata. Failures are logged, never surfaced: the index is a cache.
func (s *Server) updateIndex(r *http.Request, id uuid.UUID) {
	if s.index == nil {
		return
	}
	rawHash := r.Header.Get("X-Cairn-Tree-Hash")
	machine := r.Header.Get("X-Cairn-Machine-ID")
	if rawHash == "" || machine == "" {
		return
	}
	hash, err := cas.KeyFromString(rawHash)
	if err != nil {
		s.log.Warn("ignoring malformed tree hash header", zap.String("value", rawHash))
		return
	}
	entry := model.IndexEntry{
		CatalogID: id,
		MachineID: machine,
		TreeHash:  hash,
		Name:      r.Header.Get("X-Cairn-Name"),
		Timestamp: time.Now().Truncate(time.Millisecond).UTC(),
	}
	if err = s.index.Add(r.Context(), entry); err != nil {
		s.log.Warn("catalog index update failed",
			zap.String("catalog_id", id.String()), zap.Error(err))
	}
}
