package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglane/raglane/pkg/chunker"
	"github.com/raglane/raglane/pkg/config"
	"github.com/raglane/raglane/pkg/objectstore"
	"github.com/raglane/raglane/pkg/store"
)

type fixture struct {
	store   *store.Store
	objects *objectstore.MemoryStore
	cfg     *config.PipelineConfig

	libID     string
	parserID  string
	chunkerID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenMemory()
	require.NoError(t, err)

	objects := objectstore.NewMemoryStore()

	lib := &store.Library{Name: "docs"}
	require.NoError(t, st.Libraries().Create(ctx, lib))

	parserCfg := &store.ParserConfig{Name: "plain", Type: "text"}
	require.NoError(t, st.Configs().CreateParser(ctx, parserCfg))

	chunkerCfg := &store.ChunkerConfig{Name: "small", Strategy: string(chunker.StrategySimple), Size: 64}
	require.NoError(t, st.Configs().CreateChunker(ctx, chunkerCfg))

	return &fixture{
		store:   st,
		objects: objects,
		cfg: &config.PipelineConfig{
			Workers:       2,
			ParsedBucket:  "parsed",
			ChunkedBucket: "chunked",
		},
		libID:     lib.ID,
		parserID:  parserCfg.ID,
		chunkerID: chunkerCfg.ID,
	}
}

func (f *fixture) addFile(t *testing.T, name, content string) string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.objects.Put(ctx, "raw", name, []byte(content), "text/plain"))
	file := &store.SourceFile{
		LibraryID: f.libID,
		Name:      name,
		MimeType:  "text/plain",
		Bucket:    "raw",
		ObjectKey: name,
		Size:      int64(len(content)),
	}
	require.NoError(t, f.store.Libraries().AddFile(ctx, file))
	return file.ID
}

func TestParseRunnerProcessesFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fileID := f.addFile(t, "a.txt", "First paragraph.\n\nSecond paragraph.")

	runner := NewParseRunner(f.store, f.objects, f.cfg)
	outcomes, err := runner.Run(ctx, f.libID, f.parserID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, store.ResultSuccess, outcomes[0].Status)
	assert.False(t, outcomes[0].Reused)

	result, err := f.store.ParseResults().FindByKey(ctx, fileID, f.parserID)
	require.NoError(t, err)
	assert.Equal(t, store.ResultSuccess, result.Status)
	assert.EqualValues(t, 2, result.Meta["records"])

	// The artifact landed where the result row points.
	data, err := f.objects.Get(ctx, result.Bucket, result.ObjectKey)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestParseRunnerReusesSuccessfulResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addFile(t, "a.txt", "Some content.")

	runner := NewParseRunner(f.store, f.objects, f.cfg)
	first, err := runner.Run(ctx, f.libID, f.parserID)
	require.NoError(t, err)

	second, err := runner.Run(ctx, f.libID, f.parserID)
	require.NoError(t, err)
	assert.True(t, second[0].Reused, "successful results must be reused")
	assert.Equal(t, first[0].ResultID, second[0].ResultID, "reuse must keep the same result row")
}

func TestParseRunnerRetriesFailedResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fileID := f.addFile(t, "a.txt", "Recoverable content.")

	// Plant a failed result from an earlier run.
	stale := &store.ParseResult{FileID: fileID, ParserID: f.parserID, Status: store.ResultFailed}
	require.NoError(t, f.store.ParseResults().Create(ctx, stale))

	runner := NewParseRunner(f.store, f.objects, f.cfg)
	outcomes, err := runner.Run(ctx, f.libID, f.parserID)
	require.NoError(t, err)
	assert.Equal(t, store.ResultSuccess, outcomes[0].Status)
	assert.False(t, outcomes[0].Reused)
	assert.NotEqual(t, stale.ID, outcomes[0].ResultID, "failed result must be replaced, not resurrected")
}

func TestParseRunnerIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	okID := f.addFile(t, "good.txt", "Fine content.")

	// This file's object is missing, so parsing it must fail.
	badFile := &store.SourceFile{LibraryID: f.libID, Name: "bad.txt", MimeType: "text/plain", Bucket: "raw", ObjectKey: "missing.txt"}
	require.NoError(t, f.store.Libraries().AddFile(ctx, badFile))

	runner := NewParseRunner(f.store, f.objects, f.cfg)
	outcomes, err := runner.Run(ctx, f.libID, f.parserID)
	require.NoError(t, err, "one bad file must not abort the stage")
	require.Len(t, outcomes, 2)

	byFile := map[string]Outcome{}
	for _, o := range outcomes {
		byFile[o.FileID] = o
	}
	assert.Equal(t, store.ResultSuccess, byFile[okID].Status)
	assert.Equal(t, store.ResultFailed, byFile[badFile.ID].Status)
	assert.NotEmpty(t, byFile[badFile.ID].Error)

	// The failure is recorded on the result row for later retries.
	failed, err := f.store.ParseResults().FindByKey(ctx, badFile.ID, f.parserID)
	require.NoError(t, err)
	assert.Equal(t, store.ResultFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)
}

func TestParseRunnerCleansUpStaleResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fileID := f.addFile(t, "a.txt", "Recoverable content.")

	// A failed run left an artifact and a chunk result keyed to it.
	stale := &store.ParseResult{FileID: fileID, ParserID: f.parserID, Status: store.ResultFailed}
	stale.Bucket = "parsed"
	stale.ObjectKey = "stale.json"
	require.NoError(t, f.store.ParseResults().Create(ctx, stale))
	require.NoError(t, f.objects.Put(ctx, "parsed", "stale.json", []byte("{}"), "application/json"))

	orphan := &store.ChunkResult{ParseResultID: stale.ID, ChunkerID: f.chunkerID, FileID: fileID, Status: store.ResultFailed}
	orphan.Bucket = "chunked"
	orphan.ObjectKey = "orphan.json"
	require.NoError(t, f.store.ChunkResults().Create(ctx, orphan))
	require.NoError(t, f.objects.Put(ctx, "chunked", "orphan.json", []byte("{}"), "application/json"))

	runner := NewParseRunner(f.store, f.objects, f.cfg)
	outcomes, err := runner.Run(ctx, f.libID, f.parserID)
	require.NoError(t, err)
	assert.Equal(t, store.ResultSuccess, outcomes[0].Status)

	_, err = f.objects.Get(ctx, "parsed", "stale.json")
	assert.Error(t, err, "stale parse artifact must be removed")
	_, err = f.objects.Get(ctx, "chunked", "orphan.json")
	assert.Error(t, err, "chunk artifacts keyed to the stale result must be removed")
	_, err = f.store.ChunkResults().Get(ctx, orphan.ID)
	assert.True(t, store.IsNotFound(err), "chunk rows keyed to the stale result must be removed")
}

func TestChunkRunnerRejectsNonSuccessInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fileID := f.addFile(t, "a.txt", "Content.")

	failed := &store.ParseResult{FileID: fileID, ParserID: f.parserID, Status: store.ResultFailed}
	require.NoError(t, f.store.ParseResults().Create(ctx, failed))

	// Handing the stage anything but successful parse results is a caller
	// error and no work starts.
	runner := NewChunkRunner(f.store, f.objects, f.cfg)
	_, err := runner.Run(ctx, f.chunkerID, []string{failed.ID, "no-such-result"})
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "chunk", validationErr.Stage)
	assert.Len(t, validationErr.Reasons, 2)

	// No chunk results were written.
	results, listErr := f.store.ChunkResults().List(ctx, "", f.chunkerID, "")
	require.NoError(t, listErr)
	assert.Empty(t, results)
}

func TestChunkRunnerChunksParsedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fileID := f.addFile(t, "a.txt", "Line one is here.\nLine two is here.\nLine three is here.\nLine four is here.\nLine five is here.")

	parseRunner := NewParseRunner(f.store, f.objects, f.cfg)
	parseOutcomes, err := parseRunner.Run(ctx, f.libID, f.parserID)
	require.NoError(t, err)

	chunkRunner := NewChunkRunner(f.store, f.objects, f.cfg)
	outcomes, err := chunkRunner.Run(ctx, f.chunkerID, []string{parseOutcomes[0].ResultID})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, store.ResultSuccess, outcomes[0].Status)

	result, err := f.store.ChunkResults().FindByKey(ctx, parseOutcomes[0].ResultID, f.chunkerID)
	require.NoError(t, err)
	assert.Equal(t, store.ResultSuccess, result.Status)
	assert.Equal(t, fileID, result.FileID)

	data, err := f.objects.Get(ctx, result.Bucket, result.ObjectKey)
	require.NoError(t, err)
	table, err := chunker.DecodeTable(data)
	require.NoError(t, err)
	require.NotEmpty(t, table.Records)
	assert.Equal(t, parseOutcomes[0].ResultID, table.ParseResultID)

	// Deterministic IDs: every record is scoped to the parse result.
	for _, rec := range table.Records {
		assert.Contains(t, rec.ID, parseOutcomes[0].ResultID)
	}
}

func TestChunkRunnerReuseAndRerun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addFile(t, "a.txt", "Stable content.")

	parseRunner := NewParseRunner(f.store, f.objects, f.cfg)
	parseOutcomes, err := parseRunner.Run(ctx, f.libID, f.parserID)
	require.NoError(t, err)
	parsedIDs := []string{parseOutcomes[0].ResultID}

	chunkRunner := NewChunkRunner(f.store, f.objects, f.cfg)
	first, err := chunkRunner.Run(ctx, f.chunkerID, parsedIDs)
	require.NoError(t, err)

	second, err := chunkRunner.Run(ctx, f.chunkerID, parsedIDs)
	require.NoError(t, err)
	assert.True(t, second[0].Reused)
	assert.Equal(t, first[0].ResultID, second[0].ResultID)
}
