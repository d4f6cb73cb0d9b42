package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglane/raglane/pkg/config"
	"github.com/raglane/raglane/pkg/objectstore"
	"github.com/raglane/raglane/pkg/retriever"
	"github.com/raglane/raglane/pkg/store"
	"github.com/raglane/raglane/pkg/vectordb"
)

type testEmbedder struct{}

func (testEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, 8)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000 + 0.001
	}
	return vec, nil
}

func (e testEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (testEmbedder) Dimension() int    { return 8 }
func (testEmbedder) ModelName() string { return "test-model" }
func (testEmbedder) Close() error      { return nil }

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	st, err := store.OpenMemory()
	require.NoError(t, err)
	objects := objectstore.NewMemoryStore()

	cfg := config.Default()
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.BuildTimeout = config.Duration(time.Minute)
	cfg.VectorStore.Provider = "chromem"

	factory := func(index *store.IndexConfig) (*vectordb.Engine, error) {
		provider, err := vectordb.NewChromemProvider(&cfg.VectorStore)
		if err != nil {
			return nil, err
		}
		return vectordb.NewEngine(provider, testEmbedder{}, &cfg.VectorStore), nil
	}
	svc := retriever.NewService(st, objects, cfg, factory)

	srv := New(cfg, st, objects, svc)
	return srv, srv.routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, rec))
}

func TestRetrieverLifecycleOverHTTP(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/libraries", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, rec.Code)
	lib := decode[store.Library](t, rec)

	upload := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/v1/libraries/%s/files?name=pets.txt", lib.ID),
		bytes.NewReader([]byte("Cats are independent animals.\n\nDogs are loyal companions.")))
	upload.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, upload)
	require.Equal(t, http.StatusCreated, rec.Code)
	file := decode[store.SourceFile](t, rec)
	assert.NotEmpty(t, file.ObjectKey)
	assert.EqualValues(t, 57, file.Size)

	rec = doJSON(t, h, http.MethodPost, "/v1/parsers", map[string]any{"name": "plain", "type": "text"})
	require.Equal(t, http.StatusCreated, rec.Code)
	parserCfg := decode[store.ParserConfig](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/chunkers", map[string]any{"name": "small", "strategy": "simple", "size": 64})
	require.Equal(t, http.StatusCreated, rec.Code)
	chunkerCfg := decode[store.ChunkerConfig](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/indexes", map[string]any{
		"name": "default", "provider": "chromem", "embedder": "test-model", "metric": "cosine", "store_text": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	indexCfg := decode[store.IndexConfig](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/retrievers", map[string]any{
		"name":       "pets",
		"library_id": lib.ID,
		"parser_id":  parserCfg.ID,
		"chunker_id": chunkerCfg.ID,
		"index_id":   indexCfg.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	ret := decode[store.Retriever](t, rec)
	assert.Equal(t, store.RetrieverPending, ret.Status)

	// Querying before the build is a conflict.
	rec = doJSON(t, h, http.MethodPost, "/v1/retrievers/"+ret.ID+"/query", map[string]any{"query": "dogs"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/retrievers/"+ret.ID+"/build", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	build := decode[retriever.BuildResult](t, rec)
	assert.Equal(t, store.RetrieverActive, build.Status)
	assert.EqualValues(t, 2, build.PointCount)

	rec = doJSON(t, h, http.MethodPost, "/v1/retrievers/"+ret.ID+"/query",
		map[string]any{"query": "Dogs are loyal companions.", "top_k": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[retriever.QueryResult](t, rec)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "Dogs are loyal companions.", result.Hits[0].Text)

	// Payload filters narrow hits without changing the ranking.
	rec = doJSON(t, h, http.MethodPost, "/v1/retrievers/"+ret.ID+"/query",
		map[string]any{"query": "dogs", "filters": map[string]string{"embedding_model": "no-such-model"}})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[retriever.QueryResult](t, rec)
	assert.Empty(t, result.Hits)

	rec = doJSON(t, h, http.MethodGet, "/v1/retrievers/"+ret.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[retriever.Stats](t, rec)
	assert.Equal(t, 1, stats.ParseResults.Success)
	assert.EqualValues(t, 2, stats.PointCount)

	rec = doJSON(t, h, http.MethodDelete, "/v1/retrievers/"+ret.ID+"?drop_collection=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/retrievers/"+ret.ID+"/query", map[string]any{"query": "dogs"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A retired retriever cannot be rebuilt.
	rec = doJSON(t, h, http.MethodPost, "/v1/retrievers/"+ret.ID+"/build", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/retrievers/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/retrievers", map[string]any{"unknown_field": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/libraries", map[string]string{"name": ""})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUploadRequiresName(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/libraries", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, rec.Code)
	lib := decode[store.Library](t, rec)

	upload := httptest.NewRequest(http.MethodPost, "/v1/libraries/"+lib.ID+"/files", bytes.NewReader([]byte("x")))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, upload)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)

	upload = httptest.NewRequest(http.MethodPost, "/v1/libraries/missing/files?name=a.txt", bytes.NewReader([]byte("x")))
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, upload)
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestRemoveFileExcludesFromBuilds(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/libraries", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, rec.Code)
	lib := decode[store.Library](t, rec)

	upload := httptest.NewRequest(http.MethodPost,
		"/v1/libraries/"+lib.ID+"/files?name=a.txt", bytes.NewReader([]byte("Some content.")))
	upload.Header.Set("Content-Type", "text/plain")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, upload)
	require.Equal(t, http.StatusCreated, rec2.Code)
	file := decode[store.SourceFile](t, rec2)

	rec = doJSON(t, h, http.MethodDelete, "/v1/files/"+file.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/libraries/"+lib.ID+"/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode[[]store.SourceFile](t, rec)
	assert.Empty(t, files)
}
