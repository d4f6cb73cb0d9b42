package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/raglane/raglane/pkg/registry"
)

// TextRecord is one extracted unit of text. A record maps to a page, sheet,
// or whole document depending on the source format.
type TextRecord struct {
	Index int               `json:"index"`
	Text  string            `json:"text"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// TextTable is the parse stage artifact: the ordered records extracted from
// one source file. It is what gets persisted to the object store and what
// the chunk stage consumes.
type TextTable struct {
	SourceName string            `json:"source_name"`
	Parser     string            `json:"parser"`
	Meta       map[string]string `json:"meta,omitempty"`
	Records    []TextRecord      `json:"records"`
}

// EncodeTable serializes a table for object storage.
func EncodeTable(t *TextTable) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTable restores a table from its stored form.
func DecodeTable(data []byte) (*TextTable, error) {
	var t TextTable
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode text table: %w", err)
	}
	return &t, nil
}

// Parser extracts text records from raw file content.
type Parser interface {
	// Name returns the parser type identifier.
	Name() string

	// CanParse reports whether this parser handles the given file.
	CanParse(fileName, mimeType string) bool

	// Parse extracts the text records from in-memory content.
	Parse(ctx context.Context, fileName string, data []byte) (*TextTable, error)
}

// Factory builds a parser from its config params.
type Factory func(params map[string]any) (Parser, error)

// Registry maps parser type names to factories.
type Registry struct {
	*registry.BaseRegistry[Factory]
}

// NewRegistry returns a registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{BaseRegistry: registry.NewBaseRegistry[Factory]()}
	_ = r.Register("text", func(params map[string]any) (Parser, error) {
		return NewTextParser(), nil
	})
	_ = r.Register("pdf", func(params map[string]any) (Parser, error) {
		return NewPDFParser(), nil
	})
	_ = r.Register("docx", func(params map[string]any) (Parser, error) {
		return NewDocxParser(), nil
	})
	_ = r.Register("xlsx", func(params map[string]any) (Parser, error) {
		return NewXlsxParser(params), nil
	})
	_ = r.Register("auto", func(params map[string]any) (Parser, error) {
		return NewAutoParser(params), nil
	})
	return r
}

// Create instantiates a parser of the given type.
func (r *Registry) Create(parserType string, params map[string]any) (Parser, error) {
	factory, ok := r.Get(parserType)
	if !ok {
		return nil, fmt.Errorf("unknown parser type: %s", parserType)
	}
	return factory(params)
}

// AutoParser dispatches to the first parser that accepts the file.
type AutoParser struct {
	parsers []Parser
}

func NewAutoParser(params map[string]any) *AutoParser {
	return &AutoParser{
		parsers: []Parser{
			NewPDFParser(),
			NewDocxParser(),
			NewXlsxParser(params),
			NewTextParser(),
		},
	}
}

func (p *AutoParser) Name() string { return "auto" }

func (p *AutoParser) CanParse(fileName, mimeType string) bool {
	for _, candidate := range p.parsers {
		if candidate.CanParse(fileName, mimeType) {
			return true
		}
	}
	return false
}

func (p *AutoParser) Parse(ctx context.Context, fileName string, data []byte) (*TextTable, error) {
	for _, candidate := range p.parsers {
		if candidate.CanParse(fileName, "") {
			return candidate.Parse(ctx, fileName, data)
		}
	}
	return nil, fmt.Errorf("no parser available for file: %s", filepath.Ext(fileName))
}

func hasExt(fileName string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
