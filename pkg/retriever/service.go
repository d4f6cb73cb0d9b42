package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raglane/raglane/pkg/chunker"
	"github.com/raglane/raglane/pkg/config"
	"github.com/raglane/raglane/pkg/embedders"
	"github.com/raglane/raglane/pkg/metrics"
	"github.com/raglane/raglane/pkg/objectstore"
	"github.com/raglane/raglane/pkg/pipeline"
	"github.com/raglane/raglane/pkg/store"
	"github.com/raglane/raglane/pkg/vectordb"
)

// EngineFactory builds a vector engine for an index config. The factory
// lets index configs choose their backend while the service stays agnostic.
type EngineFactory func(index *store.IndexConfig) (*vectordb.Engine, error)

// DefaultEngineFactory derives engines from the global config, overridden
// per index config (provider, metric, text storage, embedding model).
func DefaultEngineFactory(cfg *config.Config) EngineFactory {
	return func(index *store.IndexConfig) (*vectordb.Engine, error) {
		vsCfg := cfg.VectorStore
		if index.Provider != "" {
			vsCfg.Provider = index.Provider
		}
		if index.Metric != "" {
			vsCfg.Metric = index.Metric
		}
		storeText := index.StoreText
		vsCfg.StoreText = &storeText

		embCfg := cfg.Embedder
		if index.Embedder != "" {
			embCfg.Model = index.Embedder
		}

		embedder, err := embedders.New(&embCfg)
		if err != nil {
			return nil, err
		}
		provider, err := vectordb.NewProvider(&vsCfg)
		if err != nil {
			return nil, err
		}
		return vectordb.NewEngine(provider, embedder, &vsCfg), nil
	}
}

// Service orchestrates retriever builds and serves queries.
type Service struct {
	store   *store.Store
	objects objectstore.Store
	cfg     *config.Config
	factory EngineFactory

	mu      sync.Mutex
	engines map[string]*vectordb.Engine
}

func NewService(st *store.Store, objects objectstore.Store, cfg *config.Config, factory EngineFactory) *Service {
	if factory == nil {
		factory = DefaultEngineFactory(cfg)
	}
	return &Service{
		store:   st,
		objects: objects,
		cfg:     cfg,
		factory: factory,
		engines: make(map[string]*vectordb.Engine),
	}
}

func (s *Service) engine(index *store.IndexConfig) (*vectordb.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.engines[index.ID]; ok {
		return e, nil
	}
	e, err := s.factory(index)
	if err != nil {
		return nil, err
	}
	s.engines[index.ID] = e
	return e, nil
}

// CreateRequest describes a new retriever.
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LibraryID   string `json:"library_id"`
	ParserID    string `json:"parser_id"`
	ChunkerID   string `json:"chunker_id"`
	IndexID     string `json:"index_id"`
	TopK        int    `json:"top_k"`
	Collection  string `json:"collection,omitempty"`
}

// Create registers a retriever in pending state. Referenced configs must
// exist and be active, and the pipeline combination must be unique among
// non-deprecated retrievers.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Retriever, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("retriever name is required")
	}

	ret := &store.Retriever{
		Name:           req.Name,
		Description:    req.Description,
		LibraryID:      req.LibraryID,
		ParserID:       req.ParserID,
		ChunkerID:      req.ChunkerID,
		IndexID:        req.IndexID,
		TopK:           req.TopK,
		CollectionName: req.Collection,
	}
	if ret.TopK <= 0 {
		ret.TopK = 10
	}

	if err := s.store.Retrievers().Create(ctx, ret); err != nil {
		return nil, err
	}

	// The collection name defaults to the retriever identity so rebuilds
	// land in the same collection.
	if ret.CollectionName == "" {
		ret.CollectionName = "retriever-" + ret.ID
		err := s.store.DB().WithContext(ctx).
			Model(&store.Retriever{}).
			Where("id = ?", ret.ID).
			Update("collection_name", ret.CollectionName).Error
		if err != nil {
			return nil, err
		}
	}

	slog.Info("retriever created", "id", ret.ID, "name", ret.Name, "library", ret.LibraryID)
	return ret, nil
}

// BuildResult summarizes one build run.
type BuildResult struct {
	RetrieverID      string                `json:"retriever_id"`
	Status           store.RetrieverStatus `json:"status"`
	ParseCount       int                   `json:"parse_count"`
	ChunkCount       int                   `json:"chunk_count"`
	SuccessfulChunks int                   `json:"successful_chunks"`
	CollectionName   string                `json:"collection_name"`
	PointCount       int64                 `json:"point_count"`
	Elapsed          time.Duration         `json:"elapsed"`
}

// Build runs the full parse, chunk, and index pipeline for a retriever.
// Only one build can hold a retriever at a time; the claim is a status CAS
// in the database, so it holds across processes. An active retriever is
// only rebuilt when force is set.
func (s *Service) Build(ctx context.Context, id string, force bool) (*BuildResult, error) {
	ret, err := s.store.Retrievers().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if ret.Status == store.RetrieverDeprecated {
		return nil, &ErrRetrieverDeprecated{RetrieverID: id}
	}

	if ret.Status == store.RetrieverActive && !force {
		return &BuildResult{
			RetrieverID:    ret.ID,
			Status:         ret.Status,
			CollectionName: ret.CollectionName,
			PointCount:     ret.PointCount,
		}, nil
	}

	from := []store.RetrieverStatus{store.RetrieverPending, store.RetrieverFailed}
	if force {
		from = append(from, store.RetrieverActive)
	}
	claimed, err := s.store.Retrievers().TransitionStatus(ctx, id, from, store.RetrieverBuilding)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, &ErrBuildInProgress{RetrieverID: id}
	}

	timeout := s.cfg.Pipeline.BuildTimeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	started := time.Now()
	result, err := s.runBuild(buildCtx, ret)
	if err != nil {
		if failErr := s.store.Retrievers().SetFailed(context.WithoutCancel(ctx), id, err.Error()); failErr != nil {
			slog.Error("failed to record build failure", "retriever", id, "error", failErr)
		}
		slog.Error("retriever build failed", "retriever", id, "error", err, "elapsed", time.Since(started))
		if result == nil {
			result = &BuildResult{RetrieverID: id}
		}
		result.Status = store.RetrieverFailed
		result.Elapsed = time.Since(started)
		metrics.Global().RecordBuild(ctx, string(store.RetrieverFailed), result.Elapsed)
		return result, err
	}

	// The caller may be gone by now; activation must still land, and a
	// completed build must never leave the retriever in building.
	indexedAt := time.Now().UTC()
	if err := s.store.Retrievers().SetActive(context.WithoutCancel(ctx), id, result.CollectionName, result.PointCount, indexedAt); err != nil {
		if failErr := s.store.Retrievers().SetFailed(context.WithoutCancel(ctx), id, err.Error()); failErr != nil {
			slog.Error("failed to record build failure", "retriever", id, "error", failErr)
		}
		return nil, err
	}

	result.Status = store.RetrieverActive
	result.Elapsed = time.Since(started)
	metrics.Global().RecordBuild(ctx, string(store.RetrieverActive), result.Elapsed)
	slog.Info("retriever build finished",
		"retriever", id, "collection", result.CollectionName,
		"points", result.PointCount, "elapsed", result.Elapsed)
	return result, nil
}

func (s *Service) runBuild(ctx context.Context, ret *store.Retriever) (*BuildResult, error) {
	result := &BuildResult{RetrieverID: ret.ID, CollectionName: ret.CollectionName}

	index, err := s.store.Configs().GetIndex(ctx, ret.IndexID)
	if err != nil {
		return result, fmt.Errorf("failed to load index config: %w", err)
	}
	engine, err := s.engine(index)
	if err != nil {
		return result, err
	}

	parseOutcomes, err := pipeline.NewParseRunner(s.store, s.objects, &s.cfg.Pipeline).
		Run(ctx, ret.LibraryID, ret.ParserID)
	if err != nil {
		return result, err
	}
	result.ParseCount = len(parseOutcomes)

	// Files whose parse failed stay out of this build; only a run that
	// ends with zero successful chunks aborts.
	var parsedIDs []string
	for _, outcome := range parseOutcomes {
		if outcome.Status == store.ResultSuccess {
			parsedIDs = append(parsedIDs, outcome.ResultID)
		}
	}

	chunkOutcomes, err := pipeline.NewChunkRunner(s.store, s.objects, &s.cfg.Pipeline).
		Run(ctx, ret.ChunkerID, parsedIDs)
	if err != nil {
		return result, err
	}
	result.ChunkCount = len(chunkOutcomes)

	var docs []vectordb.Document
	for _, outcome := range chunkOutcomes {
		if outcome.Status != store.ResultSuccess {
			continue
		}
		result.SuccessfulChunks++

		chunkResult, err := s.store.ChunkResults().Get(ctx, outcome.ResultID)
		if err != nil {
			return result, err
		}
		data, err := s.objects.Get(ctx, chunkResult.Bucket, chunkResult.ObjectKey)
		if err != nil {
			return result, fmt.Errorf("failed to fetch chunks for %s: %w", outcome.ResultID, err)
		}
		table, err := chunker.DecodeTable(data)
		if err != nil {
			return result, err
		}
		for _, rec := range table.Records {
			docs = append(docs, vectordb.Document{ID: rec.ID, Text: rec.Text, Meta: rec.Meta})
		}
	}

	if result.SuccessfulChunks == 0 {
		return result, &ErrNoChunks{RetrieverID: ret.ID}
	}

	if _, err := engine.EnsureCollection(ctx, ret.CollectionName, index.Dimension); err != nil {
		return result, err
	}
	if _, err := engine.Add(ctx, ret.CollectionName, docs); err != nil {
		return result, err
	}

	count, err := engine.Count(ctx, ret.CollectionName)
	if err != nil {
		return result, err
	}
	result.PointCount = count
	return result, nil
}

// QueryResult carries search hits annotated with the retriever identity.
type QueryResult struct {
	RetrieverID   string              `json:"retriever_id"`
	RetrieverName string              `json:"retriever_name"`
	LibraryID     string              `json:"library_id"`
	Hits          []vectordb.QueryHit `json:"hits"`
}

// Query searches an active retriever. topK falls back to the retriever's
// configured default when not positive; a non-empty filter restricts hits
// to points whose payload matches every entry.
func (s *Service) Query(ctx context.Context, id, text string, topK int, filter vectordb.Filter) (*QueryResult, error) {
	ret, err := s.store.Retrievers().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret.Status != store.RetrieverActive {
		return nil, &ErrNotActive{RetrieverID: id, Status: ret.Status}
	}

	if topK <= 0 {
		topK = ret.TopK
	}

	index, err := s.store.Configs().GetIndex(ctx, ret.IndexID)
	if err != nil {
		return nil, err
	}
	engine, err := s.engine(index)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	hits, err := engine.Query(ctx, ret.CollectionName, text, topK, filter)
	metrics.Global().RecordQuery(ctx, ret.Name, time.Since(started), len(hits), err)
	if err != nil {
		return nil, err
	}

	return &QueryResult{
		RetrieverID:   ret.ID,
		RetrieverName: ret.Name,
		LibraryID:     ret.LibraryID,
		Hits:          hits,
	}, nil
}

// Stats aggregates pipeline and index state for a retriever.
type Stats struct {
	Retriever      *store.Retriever `json:"retriever"`
	ParseResults   StageStats       `json:"parse_results"`
	ChunkResults   StageStats       `json:"chunk_results"`
	PointCount     int64            `json:"point_count"`
	EmbeddingModel string           `json:"embedding_model"`
}

// StageStats counts stage results by status.
type StageStats struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

func stageStats(statuses []store.ResultStatus) StageStats {
	var s StageStats
	for _, status := range statuses {
		switch status {
		case store.ResultSuccess:
			s.Success++
		case store.ResultFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// GetStats reports per-stage result counts and the live point count.
func (s *Service) GetStats(ctx context.Context, id string) (*Stats, error) {
	ret, err := s.store.Retrievers().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Retriever: ret}

	files, err := s.store.Libraries().ActiveFiles(ctx, ret.LibraryID)
	if err != nil {
		return nil, err
	}

	var parseStatuses, chunkStatuses []store.ResultStatus
	for _, file := range files {
		parseResult, err := s.store.ParseResults().FindByKey(ctx, file.ID, ret.ParserID)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		parseStatuses = append(parseStatuses, parseResult.Status)

		chunkResult, err := s.store.ChunkResults().FindByKey(ctx, parseResult.ID, ret.ChunkerID)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		chunkStatuses = append(chunkStatuses, chunkResult.Status)
	}
	stats.ParseResults = stageStats(parseStatuses)
	stats.ChunkResults = stageStats(chunkStatuses)

	index, err := s.store.Configs().GetIndex(ctx, ret.IndexID)
	if err != nil {
		return nil, err
	}
	engine, err := s.engine(index)
	if err != nil {
		return nil, err
	}
	stats.EmbeddingModel = engine.ModelName()

	if ret.Status == store.RetrieverActive {
		count, err := engine.Count(ctx, ret.CollectionName)
		if err != nil {
			return nil, err
		}
		stats.PointCount = count
	}

	return stats, nil
}

// Deprecate retires a retriever, optionally dropping its collection.
func (s *Service) Deprecate(ctx context.Context, id string, dropCollection bool) error {
	ret, err := s.store.Retrievers().Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Retrievers().Deprecate(ctx, id); err != nil {
		return err
	}

	if dropCollection && ret.CollectionName != "" {
		index, err := s.store.Configs().GetIndex(ctx, ret.IndexID)
		if err != nil {
			return err
		}
		engine, err := s.engine(index)
		if err != nil {
			return err
		}
		if err := engine.DropCollection(ctx, ret.CollectionName); err != nil {
			return err
		}
	}

	slog.Info("retriever deprecated", "retriever", id, "dropped_collection", dropCollection)
	return nil
}

// Close releases all cached engines.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for id, engine := range s.engines {
		if err := engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine %s: %w", id, err))
		}
	}
	s.engines = make(map[string]*vectordb.Engine)
	return errors.Join(errs...)
}
