package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/raglane/raglane/pkg/config"
	"github.com/raglane/raglane/pkg/objectstore"
	"github.com/raglane/raglane/pkg/parser"
	"github.com/raglane/raglane/pkg/store"
)

// ParseRunner executes the parse stage: every active file of a library is
// parsed with one parser config, and the extracted records land in the
// object store. Results are cached per (file, parser) pair, so a re-run
// only touches files that failed or never ran.
type ParseRunner struct {
	store   *store.Store
	objects objectstore.Store
	parsers *parser.Registry
	cfg     *config.PipelineConfig
}

func NewParseRunner(st *store.Store, objects objectstore.Store, cfg *config.PipelineConfig) *ParseRunner {
	return &ParseRunner{
		store:   st,
		objects: objects,
		parsers: parser.NewRegistry(),
		cfg:     cfg,
	}
}

// Run parses all active files of the library. Per-file failures are
// recorded in their result rows and reported in the outcomes; they do not
// abort the other files.
func (r *ParseRunner) Run(ctx context.Context, libraryID, parserID string) ([]Outcome, error) {
	parserCfg, err := r.store.Configs().GetParser(ctx, parserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parser config: %w", err)
	}

	p, err := r.parsers.Create(parserCfg.Type, parserCfg.Params)
	if err != nil {
		return nil, err
	}

	files, err := r.store.Libraries().ActiveFiles(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list library files: %w", err)
	}

	outcomes := make([]Outcome, len(files))
	err = runTasks(r.cfg.Workers, len(files), func(i int) {
		outcomes[i] = r.parseFile(ctx, p, parserID, &files[i])
	})
	if err != nil {
		return nil, err
	}

	recordOutcomes(ctx, "parse", outcomes)
	summary := summarize(outcomes)
	slog.Info("parse stage finished",
		"library", libraryID, "parser", parserID,
		"total", summary.Total, "succeeded", summary.Succeeded,
		"reused", summary.Reused, "failed", summary.Failed)
	return outcomes, nil
}

// removeStale discards a failed or interrupted parse result together with
// its artifact and any chunk results derived from it. Leaving those behind
// would key orphaned rows and objects to a parse result that no longer
// exists.
func (r *ParseRunner) removeStale(ctx context.Context, stale *store.ParseResult) error {
	chunks, err := r.store.ChunkResults().List(ctx, stale.ID, "", "")
	if err != nil {
		return err
	}
	for i := range chunks {
		// A row interrupted before artifact assignment has no object.
		if chunks[i].ObjectKey != "" {
			if err := r.objects.Delete(ctx, chunks[i].Bucket, chunks[i].ObjectKey); err != nil {
				return err
			}
		}
		if err := r.store.ChunkResults().Delete(ctx, chunks[i].ID); err != nil {
			return err
		}
	}
	if stale.ObjectKey != "" {
		if err := r.objects.Delete(ctx, stale.Bucket, stale.ObjectKey); err != nil {
			return err
		}
	}
	return r.store.ParseResults().Delete(ctx, stale.ID)
}

func (r *ParseRunner) parseFile(ctx context.Context, p parser.Parser, parserID string, file *store.SourceFile) Outcome {
	results := r.store.ParseResults()

	// A successful prior run is reused as-is. Failed and interrupted runs
	// are discarded and redone.
	existing, err := results.FindByKey(ctx, file.ID, parserID)
	if err == nil {
		if existing.Status == store.ResultSuccess {
			return Outcome{FileID: file.ID, ResultID: existing.ID, Status: store.ResultSuccess, Reused: true}
		}
		if err := r.removeStale(ctx, existing); err != nil {
			return Outcome{FileID: file.ID, Status: store.ResultFailed, Error: fmt.Sprintf("failed to clear stale result: %v", err)}
		}
	} else if !store.IsNotFound(err) {
		return Outcome{FileID: file.ID, Status: store.ResultFailed, Error: err.Error()}
	}

	result := &store.ParseResult{ID: uuid.NewString(), FileID: file.ID, ParserID: parserID}
	result.Bucket = r.cfg.ParsedBucket
	result.ObjectKey = result.ID + ".json"
	if err := results.Create(ctx, result); err != nil {
		return Outcome{FileID: file.ID, Status: store.ResultFailed, Error: fmt.Sprintf("failed to create result: %v", err)}
	}

	fail := func(cause error) Outcome {
		msg := cause.Error()
		if err := results.Complete(ctx, result.ID, store.ResultFailed, msg, nil); err != nil {
			slog.Error("failed to record parse failure", "result", result.ID, "error", err)
		}
		return Outcome{FileID: file.ID, ResultID: result.ID, Status: store.ResultFailed, Error: msg}
	}

	if !p.CanParse(file.Name, file.MimeType) {
		return fail(fmt.Errorf("parser %s cannot handle file %s", p.Name(), file.Name))
	}

	data, err := r.objects.Get(ctx, file.Bucket, file.ObjectKey)
	if err != nil {
		return fail(fmt.Errorf("failed to fetch source: %w", err))
	}

	table, err := p.Parse(ctx, file.Name, data)
	if err != nil {
		return fail(err)
	}

	encoded, err := parser.EncodeTable(table)
	if err != nil {
		return fail(err)
	}

	if err := r.objects.Put(ctx, result.Bucket, result.ObjectKey, encoded, "application/json"); err != nil {
		return fail(fmt.Errorf("failed to store parsed records: %w", err))
	}

	meta := store.JSONMap{"records": len(table.Records)}
	if err := results.Complete(ctx, result.ID, store.ResultSuccess, "", meta); err != nil {
		return fail(fmt.Errorf("failed to finalize result: %w", err))
	}

	return Outcome{FileID: file.ID, ResultID: result.ID, Status: store.ResultSuccess}
}
