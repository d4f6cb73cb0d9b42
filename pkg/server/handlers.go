package server

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/raglane/raglane/pkg/retriever"
	"github.com/raglane/raglane/pkg/store"
	"github.com/raglane/raglane/pkg/vectordb"
)

const maxUploadBytes = 64 << 20

type createLibraryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req createLibraryRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	lib := &store.Library{Name: req.Name, Description: req.Description}
	if err := s.store.Libraries().Create(r.Context(), lib); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lib)
}

func (s *Server) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	lib, err := s.store.Libraries().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

// handleUploadFile stores the request body as a source file. The file name
// comes from the "name" query parameter, the MIME type from Content-Type.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	libraryID := chi.URLParam(r, "id")

	if _, err := s.store.Libraries().Get(ctx, libraryID); err != nil {
		writeError(w, err)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name query parameter is required"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if len(data) > maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge,
			errorResponse{Error: fmt.Sprintf("file exceeds %d bytes", maxUploadBytes)})
		return
	}

	file := &store.SourceFile{
		ID:        uuid.NewString(),
		LibraryID: libraryID,
		Name:      name,
		MimeType:  r.Header.Get("Content-Type"),
		Bucket:    s.cfg.Pipeline.RawBucket,
		Size:      int64(len(data)),
	}
	file.ObjectKey = file.ID + path.Ext(name)

	if err := s.objects.Put(ctx, file.Bucket, file.ObjectKey, data, file.MimeType); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Libraries().AddFile(ctx, file); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.Libraries().ActiveFiles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Libraries().RemoveFile(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateParser(w http.ResponseWriter, r *http.Request) {
	var cfg store.ParserConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.store.Configs().CreateParser(r.Context(), &cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleCreateChunker(w http.ResponseWriter, r *http.Request) {
	var cfg store.ChunkerConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.store.Configs().CreateChunker(r.Context(), &cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var cfg store.IndexConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.store.Configs().CreateIndex(r.Context(), &cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleCreateRetriever(w http.ResponseWriter, r *http.Request) {
	var req retriever.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ret, err := s.service.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (s *Server) handleGetRetriever(w http.ResponseWriter, r *http.Request) {
	ret, err := s.store.Retrievers().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleListRetrievers(w http.ResponseWriter, r *http.Request) {
	rets, err := s.store.Retrievers().ListByLibrary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rets)
}

func (s *Server) handleBuildRetriever(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	result, err := s.service.Build(r.Context(), chi.URLParam(r, "id"), force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type queryRequest struct {
	Query   string          `json:"query"`
	TopK    int             `json:"top_k"`
	Filters vectordb.Filter `json:"filters,omitempty"`
}

func (s *Server) handleQueryRetriever(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query cannot be empty"})
		return
	}

	result, err := s.service.Query(r.Context(), chi.URLParam(r, "id"), req.Query, req.TopK, req.Filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRetrieverStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.GetStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeprecateRetriever(w http.ResponseWriter, r *http.Request) {
	drop, _ := strconv.ParseBool(r.URL.Query().Get("drop_collection"))

	if err := s.service.Deprecate(r.Context(), chi.URLParam(r, "id"), drop); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
