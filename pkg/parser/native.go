package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// PDFParser extracts one text record per page.
type PDFParser struct{}

func NewPDFParser() *PDFParser { return &PDFParser{} }

func (p *PDFParser) Name() string { return "pdf" }

func (p *PDFParser) CanParse(fileName, mimeType string) bool {
	return mimeType == "application/pdf" || hasExt(fileName, ".pdf")
}

func (p *PDFParser) Parse(ctx context.Context, fileName string, data []byte) (*TextTable, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF %s: %w", fileName, err)
	}

	totalPages := reader.NumPage()
	table := &TextTable{
		SourceName: fileName,
		Parser:     p.Name(),
		Meta: map[string]string{
			"type":  "pdf",
			"pages": fmt.Sprintf("%d", totalPages),
		},
	}

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Broken pages are skipped rather than failing the file.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		table.Records = append(table.Records, TextRecord{
			Index: len(table.Records),
			Text:  strings.TrimSpace(text),
			Meta:  map[string]string{"page": fmt.Sprintf("%d", pageNum)},
		})
	}

	return table, nil
}

// DocxParser extracts one text record per paragraph block.
type DocxParser struct{}

func NewDocxParser() *DocxParser { return &DocxParser{} }

func (p *DocxParser) Name() string { return "docx" }

func (p *DocxParser) CanParse(fileName, mimeType string) bool {
	return hasExt(fileName, ".docx")
}

func (p *DocxParser) Parse(ctx context.Context, fileName string, data []byte) (*TextTable, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read DOCX %s: %w", fileName, err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	content = stripDocxTags(content)

	table := &TextTable{
		SourceName: fileName,
		Parser:     p.Name(),
		Meta:       map[string]string{"type": "docx"},
	}

	for _, block := range strings.Split(content, "\n") {
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

// stripDocxTags removes the inline XML markup GetContent leaves around runs.
func stripDocxTags(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte('\n')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// XlsxParser extracts one text record per sheet. Cell values are rendered
// as "ref: value" lines so cell positions survive into the index.
type XlsxParser struct {
	maxCells int
}

func NewXlsxParser(params map[string]any) *XlsxParser {
	maxCells := 1000
	if v, ok := params["max_cells"]; ok {
		switch n := v.(type) {
		case int:
			maxCells = n
		case float64:
			maxCells = int(n)
		}
	}
	return &XlsxParser{maxCells: maxCells}
}

func (p *XlsxParser) Name() string { return "xlsx" }

func (p *XlsxParser) CanParse(fileName, mimeType string) bool {
	return hasExt(fileName, ".xlsx")
}

func (p *XlsxParser) Parse(ctx context.Context, fileName string, data []byte) (*TextTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read XLSX %s: %w", fileName, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	table := &TextTable{
		SourceName: fileName,
		Parser:     p.Name(),
		Meta: map[string]string{
			"type":   "xlsx",
			"sheets": fmt.Sprintf("%d", len(sheets)),
		},
	}

	for _, sheetName := range sheets {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}

		var sheetText strings.Builder
		cellCount := 0
		for rowIndex, row := range rows {
			if cellCount >= p.maxCells {
				sheetText.WriteString("... (truncated)\n")
				break
			}
			for colIndex, cell := range row {
				if cellCount >= p.maxCells {
					break
				}
				if text := strings.TrimSpace(cell); text != "" {
					sheetText.WriteString(fmt.Sprintf("%s%d: %s\n", columnLetter(colIndex), rowIndex+1, text))
					cellCount++
				}
			}
		}

		if text := strings.TrimSpace(sheetText.String()); text != "" {
			table.Records = append(table.Records, TextRecord{
				Index: len(table.Records),
				Text:  text,
				Meta:  map[string]string{"sheet": sheetName},
			})
		}
	}

	return table, nil
}

// columnLetter converts a 0-based column index to an Excel column letter
// (A, B, ..., Z, AA, AB, ...).
func columnLetter(index int) string {
	result := ""
	for {
		result = string(rune('A'+index%26)) + result
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return result
}
