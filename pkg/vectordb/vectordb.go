package vectordb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// pointNamespace is the UUID namespace for external-to-internal ID
// translation. It must never change: translated IDs are persisted in vector
// collections, and a rebuild must map every external ID to the same point.
var pointNamespace = uuid.MustParse("12345678-1234-5678-1234-123456789abc")

// Translate maps an external document ID to its internal point ID. The
// mapping is deterministic (UUIDv5 over the namespace), so the same external
// ID always lands on the same point and upserts replace instead of
// duplicate.
func Translate(externalID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(externalID)).String()
}

// Payload field names stored alongside each vector.
const (
	FieldOriginalID     = "original_id"
	FieldText           = "text"
	FieldTextLength     = "text_length"
	FieldIndexedAt      = "indexed_at"
	FieldEmbeddingModel = "embedding_model"
	FieldCollection     = "collection_name"
)

// Point is one vector plus payload, addressed by its internal point ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// QueryHit is one search result. ID is the external document ID recovered
// from the payload.
type QueryHit struct {
	ID      string
	Score   float32
	Text    string
	Payload map[string]any
}

// Filter restricts search results to points whose payload matches every
// entry exactly. Values are compared by their string form.
type Filter map[string]string

// Matches reports whether a payload satisfies every filter entry.
func (f Filter) Matches(payload map[string]any) bool {
	for key, want := range f {
		got, ok := payload[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// Provider is a vector database backend. All IDs crossing this interface
// are internal point IDs; callers translate external IDs first.
type Provider interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, name string, dimension int, metric string) error

	// Dimension returns the vector size of an existing collection, or 0
	// when the backend cannot report it.
	Dimension(ctx context.Context, name string) (int, error)

	// Upsert writes points, replacing any with the same ID.
	Upsert(ctx context.Context, name string, points []Point) error

	// Search returns the nearest points to the query vector. A non-empty
	// filter restricts results to matching payloads.
	Search(ctx context.Context, name string, vector []float32, limit int, filter Filter) ([]QueryHit, error)

	// Retrieve fetches points by ID. Missing IDs are skipped.
	Retrieve(ctx context.Context, name string, ids []string) ([]Point, error)

	// Delete removes points by ID. Missing IDs are a no-op.
	Delete(ctx context.Context, name string, ids []string) error

	// Count returns the number of points in the collection.
	Count(ctx context.Context, name string) (int64, error)

	// DropCollection removes the collection and all its points.
	DropCollection(ctx context.Context, name string) error

	Close() error
}

// BackendError wraps a vector backend failure with enough context to tell
// which operation and batch failed.
type BackendError struct {
	Op         string
	Collection string
	Batch      int
	Err        error
}

func (e *BackendError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("vectordb %s on %s (batch %d): %v", e.Op, e.Collection, e.Batch, e.Err)
	}
	return fmt.Sprintf("vectordb %s on %s: %v", e.Op, e.Collection, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func backendErr(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Collection: collection, Batch: -1, Err: err}
}
