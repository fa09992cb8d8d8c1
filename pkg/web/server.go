// Package web serves the store's object API over HTTP: extents, blob
// layouts and catalogs, one resource family each. The server holds no
// state beyond its storage backend, so any number of instances can front
// the same store.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cairnstore/cairn/pkg/catalog"
	"github.com/cairnstore/cairn/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server handles the object API against one storage backend
type Server struct {
	store storage.Store
	index *catalog.Index
	log   *zap.Logger
}

// ServerOption modifies the server's defaults
type ServerOption func(*Server)

// WithIndex attaches a best-effort catalog index, updated on catalog puts
// and queried by tree hash lookups
func WithIndex(ix *catalog.Index) ServerOption {
	return func(s *Server) { s.index = ix }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer builds a server over store
func NewServer(store storage.Store, opts ...ServerOption) *Server {
	s := &Server{store: store, log: zap.NewNop()}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// InitRouter wires the object API routes
func InitRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/extents", func(r chi.Router) {
		r.Post("/check", s.checkExtents)
		s.objectRoutes(r, objectOps{
			name: "extent",
			put:  s.store.PutExtent,
			get:  s.store.GetExtent,
			meta: s.store.ExtentMeta,
		})
	})
	r.Route("/blobs", func(r chi.Router) {
		s.objectRoutes(r, objectOps{
			name: "blob",
			put:  s.store.PutBlob,
			get:  s.store.GetBlob,
			meta: s.store.BlobMeta,
		})
	})
	r.Route("/catalogs", func(r chi.Router) {
		r.Get("/", s.listCatalogs)
		r.Get("/{id}", s.getCatalog)
		r.Head("/{id}", s.headCatalog)
		r.Put("/{id}", s.putCatalog)
	})
	return r
}

// requestLogger emits one debug line per request
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorResponse{Error: msg, Detail: detail})
}
