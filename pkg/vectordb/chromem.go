package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/raglane/raglane/pkg/config"
)

// metadataPayloadKey holds the JSON-encoded payload. Chromem metadata is
// string-to-string, so the payload travels as one encoded field.
const metadataPayloadKey = "payload"

// ChromemProvider implements Provider on an embedded chromem-go store. It
// needs no external server, which makes it the default for local setups and
// tests.
type ChromemProvider struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

func NewChromemProvider(cfg *config.VectorStoreConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		d, err := chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem store: %w", err)
		}
		db = d
	}

	return &ChromemProvider{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// noEmbed is the embedding func handed to chromem. All documents arrive
// with precomputed vectors, so chromem must never embed on its own.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding is handled upstream")
}

func (db *ChromemProvider) collection(name string) (*chromem.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.collections[name]; ok {
		return c, nil
	}
	c, err := db.db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, err
	}
	db.collections[name] = c
	return c, nil
}

func (db *ChromemProvider) EnsureCollection(ctx context.Context, name string, dimension int, metric string) error {
	_, err := db.collection(name)
	return backendErr("create collection", name, err)
}

// Dimension always reports 0: chromem does not expose a fixed collection
// dimension, it adopts whatever the first document carries.
func (db *ChromemProvider) Dimension(ctx context.Context, name string) (int, error) {
	return 0, nil
}

func (db *ChromemProvider) Upsert(ctx context.Context, name string, points []Point) error {
	c, err := db.collection(name)
	if err != nil {
		return backendErr("upsert", name, err)
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		encoded, err := json.Marshal(p.Payload)
		if err != nil {
			return backendErr("upsert", name, fmt.Errorf("failed to encode payload for %s: %w", p.ID, err))
		}

		content, _ := p.Payload[FieldText].(string)
		if content == "" {
			// Chromem rejects empty content; the translated ID is a
			// stable stand-in when text storage is off.
			content = p.ID
		}

		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Metadata:  map[string]string{metadataPayloadKey: string(encoded)},
			Embedding: p.Vector,
			Content:   content,
		})
	}

	return backendErr("upsert", name, c.AddDocuments(ctx, docs, 1))
}

func (db *ChromemProvider) Search(ctx context.Context, name string, vector []float32, limit int, filter Filter) ([]QueryHit, error) {
	c, err := db.collection(name)
	if err != nil {
		return nil, backendErr("search", name, err)
	}

	count := c.Count()
	fetch := limit
	if len(filter) > 0 {
		// The payload travels as one encoded metadata field, so chromem
		// cannot pre-filter it. Fetch everything and filter here.
		fetch = count
	}
	if fetch > count {
		fetch = count
	}
	if fetch == 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, vector, fetch, nil, nil)
	if err != nil {
		return nil, backendErr("search", name, err)
	}

	hits := make([]QueryHit, 0, len(results))
	for _, result := range results {
		if len(hits) == limit {
			break
		}
		payload := decodePayload(result.Metadata)
		if !filter.Matches(payload) {
			continue
		}
		hit := QueryHit{
			ID:      result.ID,
			Score:   result.Similarity,
			Payload: payload,
		}
		if original, ok := payload[FieldOriginalID].(string); ok {
			hit.ID = original
		}
		if text, ok := payload[FieldText].(string); ok {
			hit.Text = text
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Retrieve resolves the ID list as one GetByID per ID: chromem has no
// batch get, so the single-call contract degrades to sequential lookups
// here.
func (db *ChromemProvider) Retrieve(ctx context.Context, name string, ids []string) ([]Point, error) {
	c, err := db.collection(name)
	if err != nil {
		return nil, backendErr("retrieve", name, err)
	}

	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		doc, err := c.GetByID(ctx, id)
		if err != nil {
			if strings.Contains(err.Error(), "not found") {
				continue
			}
			return nil, backendErr("retrieve", name, err)
		}
		points = append(points, Point{
			ID:      doc.ID,
			Vector:  doc.Embedding,
			Payload: decodePayload(doc.Metadata),
		})
	}
	return points, nil
}

func (db *ChromemProvider) Delete(ctx context.Context, name string, ids []string) error {
	c, err := db.collection(name)
	if err != nil {
		return backendErr("delete", name, err)
	}
	return backendErr("delete", name, c.Delete(ctx, nil, nil, ids...))
}

func (db *ChromemProvider) Count(ctx context.Context, name string) (int64, error) {
	c, err := db.collection(name)
	if err != nil {
		return 0, backendErr("count", name, err)
	}
	return int64(c.Count()), nil
}

func (db *ChromemProvider) DropCollection(ctx context.Context, name string) error {
	db.mu.Lock()
	delete(db.collections, name)
	db.mu.Unlock()
	return backendErr("drop collection", name, db.db.DeleteCollection(name))
}

func (db *ChromemProvider) Close() error {
	return nil
}

func decodePayload(metadata map[string]string) map[string]any {
	payload := make(map[string]any)
	if encoded, ok := metadata[metadataPayloadKey]; ok {
		_ = json.Unmarshal([]byte(encoded), &payload)
	}
	return payload
}

var _ Provider = (*ChromemProvider)(nil)
