package parser

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// TextParser handles plain-text formats. Content is split on blank lines so
// each record is one paragraph, which keeps downstream chunking stable for
// prose and markdown alike.
type TextParser struct{}

func NewTextParser() *TextParser { return &TextParser{} }

func (p *TextParser) Name() string { return "text" }

func (p *TextParser) CanParse(fileName, mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	return hasExt(fileName, ".txt", ".md", ".markdown", ".rst", ".csv", ".log", ".json", ".yaml", ".yml")
}

func (p *TextParser) Parse(ctx context.Context, fileName string, data []byte) (*TextTable, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("file %s is not valid UTF-8 text", fileName)
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	table := &TextTable{
		SourceName: fileName,
		Parser:     p.Name(),
		Meta:       map[string]string{"type": "text"},
	}

	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		table.Records = append(table.Records, TextRecord{
			Index: len(table.Records),
			Text:  block,
		})
	}

	return table, nil
}
