package parser

import (
	"context"
	"testing"
)

func TestTextParserSplitsParagraphs(t *testing.T) {
	p := NewTextParser()
	data := []byte("First paragraph.\n\nSecond paragraph\nspanning two lines.\r\n\r\nThird.")

	table, err := p.Parse(context.Background(), "notes.txt", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(table.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(table.Records))
	}
	if table.Records[0].Text != "First paragraph." {
		t.Errorf("unexpected first record: %q", table.Records[0].Text)
	}
	if table.Records[1].Index != 1 {
		t.Errorf("records must be indexed in order, got %d", table.Records[1].Index)
	}
	if table.Parser != "text" {
		t.Errorf("expected parser name text, got %s", table.Parser)
	}
}

func TestTextParserRejectsBinary(t *testing.T) {
	p := NewTextParser()
	if _, err := p.Parse(context.Background(), "blob.txt", []byte{0xff, 0xfe, 0x00, 0x80}); err == nil {
		t.Fatal("expected error for non-UTF-8 content")
	}
}

func TestTableRoundTrip(t *testing.T) {
	original := &TextTable{
		SourceName: "doc.pdf",
		Parser:     "pdf",
		Meta:       map[string]string{"pages": "2"},
		Records: []TextRecord{
			{Index: 0, Text: "page one", Meta: map[string]string{"page": "1"}},
			{Index: 1, Text: "page two", Meta: map[string]string{"page": "2"}},
		},
	}

	data, err := EncodeTable(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	restored, err := DecodeTable(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if restored.SourceName != original.SourceName || len(restored.Records) != 2 {
		t.Errorf("round trip lost data: %+v", restored)
	}
	if restored.Records[1].Meta["page"] != "2" {
		t.Errorf("record metadata lost: %+v", restored.Records[1])
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	for _, parserType := range []string{"text", "pdf", "docx", "xlsx", "auto"} {
		if _, err := r.Create(parserType, nil); err != nil {
			t.Errorf("built-in parser %s not registered: %v", parserType, err)
		}
	}

	if _, err := r.Create("bogus", nil); err == nil {
		t.Error("expected error for unknown parser type")
	}
}

func TestAutoParserPicksByExtension(t *testing.T) {
	p := NewAutoParser(nil)

	cases := []struct {
		name string
		want bool
	}{
		{"report.pdf", true},
		{"memo.docx", true},
		{"sheet.xlsx", true},
		{"readme.md", true},
		{"image.png", false},
	}
	for _, tc := range cases {
		if got := p.CanParse(tc.name, ""); got != tc.want {
			t.Errorf("CanParse(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}

	// Text fallback handles the actual parse.
	table, err := p.Parse(context.Background(), "readme.md", []byte("# Title\n\nBody."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(table.Records))
	}
}

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{0: "A", 25: "Z", 26: "AA", 27: "AB", 701: "ZZ"}
	for index, want := range cases {
		if got := columnLetter(index); got != want {
			t.Errorf("columnLetter(%d) = %s, want %s", index, got, want)
		}
	}
}
