package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/raglane/raglane/pkg/chunker"
	"github.com/raglane/raglane/pkg/config"
	"github.com/raglane/raglane/pkg/objectstore"
	"github.com/raglane/raglane/pkg/parser"
	"github.com/raglane/raglane/pkg/store"
)

// ChunkRunner executes the chunk stage: the parsed records behind each
// given parse result are split with one chunker config. Callers hand it
// successful parse results only; files whose parse failed simply stay out
// of this run and are retried by a later build.
type ChunkRunner struct {
	store   *store.Store
	objects objectstore.Store
	cfg     *config.PipelineConfig
}

func NewChunkRunner(st *store.Store, objects objectstore.Store, cfg *config.PipelineConfig) *ChunkRunner {
	return &ChunkRunner{store: st, objects: objects, cfg: cfg}
}

// Run chunks the given parse results with the given chunker. Every input
// must be a successful parse result; handing it anything else is a caller
// error and no work starts.
func (r *ChunkRunner) Run(ctx context.Context, chunkerID string, parseResultIDs []string) ([]Outcome, error) {
	chunkerCfg, err := r.store.Configs().GetChunker(ctx, chunkerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunker config: %w", err)
	}

	c, err := chunker.New(chunkerOptions(chunkerCfg))
	if err != nil {
		return nil, err
	}

	parents := make([]*store.ParseResult, len(parseResultIDs))
	var reasons []string
	for i, id := range parseResultIDs {
		parent, err := r.store.ParseResults().Get(ctx, id)
		switch {
		case store.IsNotFound(err):
			reasons = append(reasons, fmt.Sprintf("parse result %s does not exist", id))
		case err != nil:
			return nil, err
		case parent.Status != store.ResultSuccess:
			reasons = append(reasons, fmt.Sprintf("parse result %s is %s, not success", id, parent.Status))
		default:
			parents[i] = parent
		}
	}
	if len(reasons) > 0 {
		return nil, &ValidationError{Stage: "chunk", Reasons: reasons}
	}

	outcomes := make([]Outcome, len(parents))
	err = runTasks(r.cfg.Workers, len(parents), func(i int) {
		outcomes[i] = r.chunkResult(ctx, c, chunkerID, parents[i])
	})
	if err != nil {
		return nil, err
	}

	recordOutcomes(ctx, "chunk", outcomes)
	summary := summarize(outcomes)
	slog.Info("chunk stage finished",
		"chunker", chunkerID,
		"total", summary.Total, "succeeded", summary.Succeeded,
		"reused", summary.Reused, "failed", summary.Failed)
	return outcomes, nil
}

func chunkerOptions(cfg *store.ChunkerConfig) chunker.Options {
	opts := chunker.Options{
		Strategy: chunker.Strategy(cfg.Strategy),
		Size:     cfg.Size,
		Overlap:  cfg.Overlap,
	}
	if model, ok := cfg.Params["model"].(string); ok {
		opts.Model = model
	}
	return opts
}

func (r *ChunkRunner) chunkResult(ctx context.Context, c chunker.Chunker, chunkerID string, parent *store.ParseResult) Outcome {
	results := r.store.ChunkResults()
	fileID := parent.FileID

	existing, err := results.FindByKey(ctx, parent.ID, chunkerID)
	if err == nil {
		if existing.Status == store.ResultSuccess {
			return Outcome{FileID: fileID, ResultID: existing.ID, Status: store.ResultSuccess, Reused: true}
		}
		if existing.ObjectKey != "" {
			if err := r.objects.Delete(ctx, existing.Bucket, existing.ObjectKey); err != nil {
				return Outcome{FileID: fileID, Status: store.ResultFailed, Error: fmt.Sprintf("failed to clear stale artifact: %v", err)}
			}
		}
		if err := results.Delete(ctx, existing.ID); err != nil {
			return Outcome{FileID: fileID, Status: store.ResultFailed, Error: fmt.Sprintf("failed to clear stale result: %v", err)}
		}
	} else if !store.IsNotFound(err) {
		return Outcome{FileID: fileID, Status: store.ResultFailed, Error: err.Error()}
	}

	result := &store.ChunkResult{
		ID:            uuid.NewString(),
		ParseResultID: parent.ID,
		ChunkerID:     chunkerID,
		FileID:        fileID,
	}
	result.Bucket = r.cfg.ChunkedBucket
	result.ObjectKey = result.ID + ".json"
	if err := results.Create(ctx, result); err != nil {
		return Outcome{FileID: fileID, Status: store.ResultFailed, Error: fmt.Sprintf("failed to create result: %v", err)}
	}

	fail := func(cause error) Outcome {
		msg := cause.Error()
		if err := results.Complete(ctx, result.ID, store.ResultFailed, msg, nil); err != nil {
			slog.Error("failed to record chunk failure", "result", result.ID, "error", err)
		}
		return Outcome{FileID: fileID, ResultID: result.ID, Status: store.ResultFailed, Error: msg}
	}

	data, err := r.objects.Get(ctx, parent.Bucket, parent.ObjectKey)
	if err != nil {
		return fail(fmt.Errorf("failed to fetch parsed records: %w", err))
	}

	table, err := parser.DecodeTable(data)
	if err != nil {
		return fail(err)
	}

	// Chunk IDs embed the parse result ID, so the same parsed content
	// always yields the same IDs.
	chunked, err := chunker.BuildTable(c, parent.ID, table)
	if err != nil {
		return fail(err)
	}

	encoded, err := chunker.EncodeTable(chunked)
	if err != nil {
		return fail(err)
	}
	if err := r.objects.Put(ctx, result.Bucket, result.ObjectKey, encoded, "application/json"); err != nil {
		return fail(fmt.Errorf("failed to store chunks: %w", err))
	}

	meta := store.JSONMap{"chunks": len(chunked.Records)}
	if err := results.Complete(ctx, result.ID, store.ResultSuccess, "", meta); err != nil {
		return fail(fmt.Errorf("failed to finalize result: %w", err))
	}

	return Outcome{FileID: fileID, ResultID: result.ID, Status: store.ResultSuccess}
}
