// Package server exposes the retriever engine over HTTP. Handlers are
// thin: they translate requests into core calls and core errors into
// status codes, nothing else.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raglane/raglane/pkg/config"
	"github.com/raglane/raglane/pkg/metrics"
	"github.com/raglane/raglane/pkg/objectstore"
	"github.com/raglane/raglane/pkg/pipeline"
	"github.com/raglane/raglane/pkg/retriever"
	"github.com/raglane/raglane/pkg/store"
)

// Server is the HTTP front of the retriever service.
type Server struct {
	store   *store.Store
	objects objectstore.Store
	service *retriever.Service
	cfg     *config.Config

	httpServer *http.Server
}

func New(cfg *config.Config, st *store.Store, objects objectstore.Store, svc *retriever.Service) *Server {
	s := &Server{
		store:   st,
		objects: objects,
		service: svc,
		cfg:     cfg,
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Global().Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/libraries", s.handleCreateLibrary)
		r.Get("/libraries/{id}", s.handleGetLibrary)
		r.Post("/libraries/{id}/files", s.handleUploadFile)
		r.Get("/libraries/{id}/files", s.handleListFiles)
		r.Get("/libraries/{id}/retrievers", s.handleListRetrievers)
		r.Delete("/files/{id}", s.handleRemoveFile)

		r.Post("/parsers", s.handleCreateParser)
		r.Post("/chunkers", s.handleCreateChunker)
		r.Post("/indexes", s.handleCreateIndex)

		r.Post("/retrievers", s.handleCreateRetriever)
		r.Get("/retrievers/{id}", s.handleGetRetriever)
		r.Post("/retrievers/{id}/build", s.handleBuildRetriever)
		r.Post("/retrievers/{id}/query", s.handleQueryRetriever)
		r.Get("/retrievers/{id}/stats", s.handleRetrieverStats)
		r.Delete("/retrievers/{id}", s.handleDeprecateRetriever)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps core errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		dup        *store.ErrDuplicateRetriever
		inProgress *retriever.ErrBuildInProgress
		notActive  *retriever.ErrNotActive
		deprecated *retriever.ErrRetrieverDeprecated
		noChunks   *retriever.ErrNoChunks
		validation *pipeline.ValidationError
	)

	status := http.StatusInternalServerError
	switch {
	case store.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &deprecated):
		status = http.StatusGone
	case errors.As(err, &dup), errors.As(err, &inProgress), errors.As(err, &notActive):
		status = http.StatusConflict
	case errors.As(err, &noChunks), errors.As(err, &validation):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
