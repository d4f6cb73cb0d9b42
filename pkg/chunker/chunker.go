package chunker

import (
	"encoding/json"
	"fmt"

	"github.com/raglane/raglane/pkg/parser"
)

// Strategy identifies a chunking strategy.
type Strategy string

const (
	// StrategySimple splits by character budget on line boundaries.
	StrategySimple Strategy = "simple"

	// StrategyOverlapping splits like simple but repeats trailing lines at
	// the start of the next chunk so context survives the cut.
	StrategyOverlapping Strategy = "overlapping"

	// StrategyToken splits by token count using the embedding model's
	// tokenizer, so chunks line up with embedder limits.
	StrategyToken Strategy = "token"
)

// Options configures chunking behavior.
type Options struct {
	Strategy Strategy `yaml:"strategy,omitempty"`

	// Size is the target chunk size: characters for simple/overlapping,
	// tokens for token.
	Size int `yaml:"size,omitempty"`

	// Overlap is how much of the previous chunk repeats in the next, in
	// the same unit as Size.
	Overlap int `yaml:"overlap,omitempty"`

	// Model selects the tokenizer for the token strategy.
	Model string `yaml:"model,omitempty"`
}

func (o *Options) SetDefaults() {
	if o.Strategy == "" {
		o.Strategy = StrategySimple
	}
	if o.Size <= 0 {
		if o.Strategy == StrategyToken {
			o.Size = 256
		} else {
			o.Size = 1000
		}
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
}

func (o *Options) Validate() error {
	switch o.Strategy {
	case StrategySimple, StrategyOverlapping, StrategyToken, "":
	default:
		return fmt.Errorf("invalid chunker strategy: %q", o.Strategy)
	}
	if o.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("overlap must be non-negative, got %d", o.Overlap)
	}
	if o.Overlap >= o.Size {
		return fmt.Errorf("overlap (%d) must be less than size (%d)", o.Overlap, o.Size)
	}
	return nil
}

// Chunk is one piece of a text record.
type Chunk struct {
	Text  string
	Index int
	Total int
}

// Chunker splits one text record into pieces for embedding.
type Chunker interface {
	Chunk(content string) ([]Chunk, error)
	Strategy() Strategy
}

// New creates a chunker from options.
func New(opts Options) (Chunker, error) {
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}

	switch opts.Strategy {
	case StrategyOverlapping:
		return NewOverlappingChunker(opts), nil
	case StrategyToken:
		return NewTokenChunker(opts)
	default:
		return NewSimpleChunker(opts), nil
	}
}

// Record is one chunk in the chunk stage artifact. The ID is derived from
// the parse result, record index, and chunk index, so re-running the stage
// over the same parsed content yields identical IDs.
type Record struct {
	ID   string            `json:"id"`
	Text string            `json:"text"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Table is the chunk stage artifact persisted to the object store.
type Table struct {
	ParseResultID string   `json:"parse_result_id"`
	Strategy      Strategy `json:"strategy"`
	Records       []Record `json:"records"`
}

// EncodeTable serializes a table for object storage.
func EncodeTable(t *Table) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTable restores a table from its stored form.
func DecodeTable(data []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode chunk table: %w", err)
	}
	return &t, nil
}

// BuildTable chunks every record of a parsed table. Chunk IDs are
// deterministic so a rebuild writes the same points instead of duplicates.
func BuildTable(c Chunker, parseResultID string, src *parser.TextTable) (*Table, error) {
	table := &Table{
		ParseResultID: parseResultID,
		Strategy:      c.Strategy(),
	}

	for _, rec := range src.Records {
		chunks, err := c.Chunk(rec.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to chunk record %d: %w", rec.Index, err)
		}
		for _, ch := range chunks {
			meta := map[string]string{}
			for k, v := range rec.Meta {
				meta[k] = v
			}
			meta["record"] = fmt.Sprintf("%d", rec.Index)
			meta["chunk"] = fmt.Sprintf("%d", ch.Index)
			table.Records = append(table.Records, Record{
				ID:   fmt.Sprintf("%s-%d-%d", parseResultID, rec.Index, ch.Index),
				Text: ch.Text,
				Meta: meta,
			})
		}
	}

	return table, nil
}
