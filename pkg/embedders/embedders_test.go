package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/raglane/raglane/pkg/config"
)

func TestOpenAIEmbedBatchPreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}

		var req openAIEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}

		// Return embeddings out of order; the client must re-sort by index.
		resp := map[string]any{"model": req.Model, "data": []map[string]any{}}
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"embedding": []float32{float32(i), float32(i)},
				"index":     i,
			})
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		Type:   "openai",
		APIKey: "test-key",
		Host:   server.URL,
	})
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, vec := range vectors {
		if vec[0] != float32(i) {
			t.Errorf("vector %d out of order: %v", i, vec)
		}
	}
}

func TestOpenAIRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 2}, "index": 0}},
		})
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		Type:       "openai",
		APIKey:     "test-key",
		Host:       server.URL,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected retry to recover, got: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("unexpected vector: %v", vec)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestOpenAISurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "invalid key", "type": "auth", "code": "401"},
		})
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		Type:       "openai",
		APIKey:     "bad-key",
		Host:       server.URL,
		MaxRetries: 1,
	})
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected API error")
	}
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(&config.EmbedderConfig{Type: "openai"}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestOllamaEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(&config.EmbedderConfig{Type: "ollama", Host: server.URL})
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	vectors, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 3 {
		t.Errorf("unexpected vectors: %v", vectors)
	}
}

func TestNewDispatchesOnType(t *testing.T) {
	if _, err := New(&config.EmbedderConfig{Type: "openai", APIKey: "k"}); err != nil {
		t.Errorf("openai: %v", err)
	}
	if _, err := New(&config.EmbedderConfig{Type: "ollama"}); err != nil {
		t.Errorf("ollama: %v", err)
	}
	if _, err := New(&config.EmbedderConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown type")
	}
}
