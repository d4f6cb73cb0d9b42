package embedders

import (
	"context"
	"fmt"

	"github.com/raglane/raglane/pkg/config"
)

// Provider produces embedding vectors for text.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vectors for a batch of texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the configured vector size, or 0 when unknown.
	Dimension() int

	// ModelName returns the model identifier used for embeddings.
	ModelName() string

	Close() error
}

// New creates a provider from config.
func New(cfg *config.EmbedderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedder type: %s", cfg.Type)
	}
}
