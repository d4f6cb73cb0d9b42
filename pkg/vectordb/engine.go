package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raglane/raglane/pkg/config"
	"github.com/raglane/raglane/pkg/embedders"
	"github.com/raglane/raglane/pkg/metrics"
)

// defaultDimension is assumed when neither the config nor a probe
// embedding can determine the vector size.
const defaultDimension = 1536

// Document is one unit of text to index, addressed by its external ID.
type Document struct {
	ID   string
	Text string
	Meta map[string]string
}

// Engine drives a vector backend with an embedder: it owns ID translation,
// payload layout, batched ingestion, and query embedding.
type Engine struct {
	provider  Provider
	embedder  embedders.Provider
	metric    string
	storeText bool
	batchSize int
	parallel  int
	retries   int
}

func NewEngine(provider Provider, embedder embedders.Provider, cfg *config.VectorStoreConfig) *Engine {
	storeText := true
	if cfg.StoreText != nil {
		storeText = *cfg.StoreText
	}

	batchSize := cfg.IngestBatch
	if batchSize <= 0 {
		batchSize = 64
	}
	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = 2
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	return &Engine{
		provider:  provider,
		embedder:  embedder,
		metric:    cfg.Metric,
		storeText: storeText,
		batchSize: batchSize,
		parallel:  parallel,
		retries:   retries,
	}
}

// EnsureCollection creates the collection if needed and returns the
// dimension it actually uses. The target dimension comes from the index
// config when set, otherwise from a probe embedding. When the collection
// already exists with a different dimension, the existing one wins: points
// written with it are still valid, so the mismatch is logged and deferred.
func (e *Engine) EnsureCollection(ctx context.Context, name string, configured int) (int, error) {
	target := configured
	if target <= 0 {
		target = e.probeDimension(ctx)
	}

	if err := e.provider.EnsureCollection(ctx, name, target, e.metric); err != nil {
		return 0, err
	}

	actual, err := e.provider.Dimension(ctx, name)
	if err != nil {
		return 0, err
	}
	if actual > 0 && actual != target {
		slog.Warn("collection dimension differs from configured, using existing",
			"collection", name, "existing", actual, "configured", target)
		return actual, nil
	}
	return target, nil
}

// probeDimension embeds a short sample text to discover the model's
// vector size. A failed probe falls back to the common OpenAI dimension.
func (e *Engine) probeDimension(ctx context.Context) int {
	if d := e.embedder.Dimension(); d > 0 {
		return d
	}

	vec, err := e.embedder.Embed(ctx, "dimension probe")
	if err != nil || len(vec) == 0 {
		slog.Warn("dimension probe failed, assuming default", "error", err, "dimension", defaultDimension)
		return defaultDimension
	}
	return len(vec)
}

// Add embeds and upserts documents in batches. Batches run in parallel up
// to the configured limit, and each batch upsert is retried before the
// whole ingestion fails. Thanks to deterministic point IDs, a retried or
// re-run batch overwrites its own points.
func (e *Engine) Add(ctx context.Context, collection string, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)

	for start := 0; start < len(docs); start += e.batchSize {
		end := start + e.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		batchIndex := start / e.batchSize

		g.Go(func() error {
			return e.addBatch(gctx, collection, batch, batchIndex)
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (e *Engine) addBatch(ctx context.Context, collection string, batch []Document, batchIndex int) error {
	texts := make([]string, len(batch))
	for i, doc := range batch {
		texts[i] = doc.Text
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return &BackendError{Op: "embed", Collection: collection, Batch: batchIndex, Err: err}
	}
	if len(vectors) != len(batch) {
		return &BackendError{
			Op:         "embed",
			Collection: collection,
			Batch:      batchIndex,
			Err:        fmt.Errorf("got %d vectors for %d documents", len(vectors), len(batch)),
		}
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	points := make([]Point, len(batch))
	for i, doc := range batch {
		payload := map[string]any{
			FieldOriginalID:     doc.ID,
			FieldTextLength:     len(doc.Text),
			FieldIndexedAt:      indexedAt,
			FieldEmbeddingModel: e.embedder.ModelName(),
			FieldCollection:     collection,
		}
		if e.storeText {
			payload[FieldText] = doc.Text
		}
		for k, v := range doc.Meta {
			payload[k] = v
		}
		points[i] = Point{
			ID:      Translate(doc.ID),
			Vector:  vectors[i],
			Payload: payload,
		}
	}

	for attempt := 0; attempt < e.retries; attempt++ {
		err = e.provider.Upsert(ctx, collection, points)
		metrics.Global().RecordIngestBatch(ctx, collection, len(points), err)
		if err == nil {
			return nil
		}
		slog.Debug("upsert retry", "collection", collection, "batch", batchIndex, "attempt", attempt+1, "error", err)
		if attempt < e.retries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	return &BackendError{Op: "upsert", Collection: collection, Batch: batchIndex, Err: err}
}

// Query embeds the query text and searches the collection. Hits carry
// external document IDs recovered from payloads. A non-empty filter
// restricts hits to points whose payload matches every filter entry.
func (e *Engine) Query(ctx context.Context, collection, text string, limit int, filter Filter) ([]QueryHit, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return e.provider.Search(ctx, collection, vec, limit, filter)
}

// QueryMany embeds every query text in one batch, runs one search per
// query, and returns the hit lists in query order.
func (e *Engine) QueryMany(ctx context.Context, collection string, texts []string, limit int, filter Filter) ([][]QueryHit, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed queries: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("got %d vectors for %d queries", len(vectors), len(texts))
	}

	results := make([][]QueryHit, len(texts))
	for i, vec := range vectors {
		hits, err := e.provider.Search(ctx, collection, vec, limit, filter)
		if err != nil {
			return nil, err
		}
		results[i] = hits
	}
	return results, nil
}

// Fetch retrieves points by external ID. Unknown IDs are silently absent
// from the result.
func (e *Engine) Fetch(ctx context.Context, collection string, externalIDs []string) ([]Point, error) {
	internal := make([]string, len(externalIDs))
	for i, id := range externalIDs {
		internal[i] = Translate(id)
	}
	return e.provider.Retrieve(ctx, collection, internal)
}

// Exists reports, per external ID, whether the document is indexed. The
// whole ID list resolves over a single backend lookup.
func (e *Engine) Exists(ctx context.Context, collection string, externalIDs []string) (map[string]bool, error) {
	internal := make([]string, len(externalIDs))
	for i, id := range externalIDs {
		internal[i] = Translate(id)
	}
	points, err := e.provider.Retrieve(ctx, collection, internal)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(points))
	for _, p := range points {
		found[p.ID] = true
	}
	exists := make(map[string]bool, len(externalIDs))
	for i, id := range externalIDs {
		exists[id] = found[internal[i]]
	}
	return exists, nil
}

// Delete removes documents by external ID. Missing IDs are a no-op.
func (e *Engine) Delete(ctx context.Context, collection string, externalIDs []string) error {
	internal := make([]string, len(externalIDs))
	for i, id := range externalIDs {
		internal[i] = Translate(id)
	}
	return e.provider.Delete(ctx, collection, internal)
}

func (e *Engine) Count(ctx context.Context, collection string) (int64, error) {
	return e.provider.Count(ctx, collection)
}

func (e *Engine) DropCollection(ctx context.Context, collection string) error {
	return e.provider.DropCollection(ctx, collection)
}

// ModelName returns the embedding model behind this engine.
func (e *Engine) ModelName() string {
	return e.embedder.ModelName()
}

func (e *Engine) Close() error {
	if err := e.embedder.Close(); err != nil {
		return err
	}
	return e.provider.Close()
}

// NewProvider creates the configured vector backend.
func NewProvider(cfg *config.VectorStoreConfig) (Provider, error) {
	switch cfg.Provider {
	case "qdrant":
		return NewQdrantProvider(cfg)
	case "chromem":
		return NewChromemProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store provider: %s", cfg.Provider)
	}
}
