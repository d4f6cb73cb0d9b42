package chunker

import (
	"strings"
	"testing"

	"github.com/raglane/raglane/pkg/parser"
)

func TestSimpleChunker_SmallContent(t *testing.T) {
	c := NewSimpleChunker(Options{Size: 100})
	content := "Hello, World!"

	chunks, err := c.Chunk(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for small content, got %d", len(chunks))
	}
	if chunks[0].Text != content {
		t.Errorf("expected content %q, got %q", content, chunks[0].Text)
	}
	if chunks[0].Total != 1 {
		t.Errorf("expected total 1, got %d", chunks[0].Total)
	}
}

func TestSimpleChunker_MultiLine(t *testing.T) {
	c := NewSimpleChunker(Options{Size: 15})
	content := "Line 1\nLine 2\nLine 3\nLine 4\nLine 5"

	chunks, err := c.Chunk(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}

	// Chunks never split mid-line and together cover every line.
	var lines []string
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Total != len(chunks) {
			t.Errorf("chunk %d has total %d, want %d", i, chunk.Total, len(chunks))
		}
		lines = append(lines, strings.Split(chunk.Text, "\n")...)
	}
	if got := strings.Join(lines, "\n"); got != content {
		t.Errorf("content not preserved:\nexpected: %q\ngot: %q", content, got)
	}
}

func TestOverlappingChunker_RepeatsBoundaryLines(t *testing.T) {
	c := NewOverlappingChunker(Options{Size: 20, Overlap: 8})
	content := "alpha line\nbeta line\ngamma line\ndelta line"

	chunks, err := c.Chunk(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}

	// Each chunk after the first starts with the tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prevLines := strings.Split(chunks[i-1].Text, "\n")
		lastPrev := prevLines[len(prevLines)-1]
		if !strings.HasPrefix(chunks[i].Text, lastPrev) {
			t.Errorf("chunk %d does not overlap with its predecessor:\nprev tail: %q\nchunk: %q",
				i, lastPrev, chunks[i].Text)
		}
	}
}

func TestOverlappingChunker_NoTrailingOverlapOnlyChunk(t *testing.T) {
	c := NewOverlappingChunker(Options{Size: 20, Overlap: 8})
	content := "alpha line\nbeta line"

	chunks, err := c.Chunk(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := chunks[len(chunks)-1]
	if len(chunks) > 1 && !strings.Contains(last.Text, "beta line") {
		t.Errorf("last chunk holds no new content: %q", last.Text)
	}
}

func TestTokenChunker_SplitsByTokens(t *testing.T) {
	c, err := NewTokenChunker(Options{Strategy: StrategyToken, Size: 8, Overlap: 2, Model: "text-embedding-3-small"})
	if err != nil {
		t.Fatalf("failed to create token chunker: %v", err)
	}

	content := strings.Repeat("the quick brown fox jumps over the lazy dog ", 10)
	chunks, err := c.Chunk(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Text == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestTokenChunker_UnknownModelFallsBack(t *testing.T) {
	c, err := NewTokenChunker(Options{Strategy: StrategyToken, Size: 16, Model: "totally-made-up"})
	if err != nil {
		t.Fatalf("expected fallback encoding, got error: %v", err)
	}
	chunks, err := c.Chunk("short text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{Strategy: "bogus"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if _, err := New(Options{Size: 100, Overlap: 100}); err == nil {
		t.Error("expected error for overlap >= size")
	}
}

func TestBuildTableDeterministicIDs(t *testing.T) {
	c := NewSimpleChunker(Options{Size: 15})
	src := &parser.TextTable{
		SourceName: "doc.txt",
		Parser:     "text",
		Records: []parser.TextRecord{
			{Index: 0, Text: "Line 1\nLine 2\nLine 3", Meta: map[string]string{"page": "1"}},
			{Index: 1, Text: "short"},
		},
	}

	first, err := BuildTable(c, "pr-123", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildTable(c, "pr-123", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first.Records) != len(second.Records) {
		t.Fatalf("rebuild produced different record counts: %d vs %d", len(first.Records), len(second.Records))
	}
	for i := range first.Records {
		if first.Records[i].ID != second.Records[i].ID {
			t.Errorf("record %d ID changed across rebuilds: %s vs %s", i, first.Records[i].ID, second.Records[i].ID)
		}
	}

	if first.Records[0].ID != "pr-123-0-0" {
		t.Errorf("unexpected ID layout: %s", first.Records[0].ID)
	}
	if first.Records[0].Meta["page"] != "1" {
		t.Errorf("source record metadata lost: %+v", first.Records[0].Meta)
	}

	// A different parse result yields disjoint IDs.
	other, err := BuildTable(c, "pr-456", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.Records[0].ID == first.Records[0].ID {
		t.Error("IDs must be scoped to the parse result")
	}
}
