package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenChunker splits by token count using the embedding model's tokenizer.
// Token-based sizing keeps every chunk inside the embedder's input window
// regardless of language or formatting.
type TokenChunker struct {
	opts Options
	enc  *tiktoken.Tiktoken
}

func NewTokenChunker(opts Options) (*TokenChunker, error) {
	opts.SetDefaults()

	enc, err := tiktoken.EncodingForModel(opts.Model)
	if err != nil {
		// Unknown models fall back to the encoding modern OpenAI
		// embedding models share.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}

	return &TokenChunker{opts: opts, enc: enc}, nil
}

func (c *TokenChunker) Strategy() Strategy { return StrategyToken }

func (c *TokenChunker) Chunk(content string) ([]Chunk, error) {
	tokens := c.enc.Encode(content, nil, nil)
	if len(tokens) <= c.opts.Size {
		return []Chunk{{Text: content, Index: 0, Total: 1}}, nil
	}

	step := c.opts.Size - c.opts.Overlap

	var chunks []Chunk
	for start := 0; start < len(tokens); start += step {
		end := start + c.opts.Size
		if end > len(tokens) {
			end = len(tokens)
		}

		chunks = append(chunks, Chunk{
			Text:  c.enc.Decode(tokens[start:end]),
			Index: len(chunks),
		})

		if end == len(tokens) {
			break
		}
	}

	total := len(chunks)
	for i := range chunks {
		chunks[i].Total = total
	}
	return chunks, nil
}

var _ Chunker = (*TokenChunker)(nil)
