package chunker

import "strings"

// SimpleChunker groups whole lines into chunks up to the size budget.
// Chunks never split mid-line.
type SimpleChunker struct {
	opts Options
}

func NewSimpleChunker(opts Options) *SimpleChunker {
	opts.SetDefaults()
	return &SimpleChunker{opts: opts}
}

func (c *SimpleChunker) Strategy() Strategy { return StrategySimple }

func (c *SimpleChunker) Chunk(content string) ([]Chunk, error) {
	if len(content) <= c.opts.Size {
		return []Chunk{{Text: content, Index: 0, Total: 1}}, nil
	}

	var chunks []Chunk
	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		lineLen := len(line) + 1

		if current.Len() > 0 && current.Len()+lineLen > c.opts.Size {
			chunks = append(chunks, Chunk{Text: strings.TrimRight(current.String(), "\n"), Index: len(chunks)})
			current.Reset()
		}

		current.WriteString(line)
		current.WriteByte('\n')
	}

	if current.Len() > 0 {
		chunks = append(chunks, Chunk{Text: strings.TrimRight(current.String(), "\n"), Index: len(chunks)})
	}

	total := len(chunks)
	for i := range chunks {
		chunks[i].Total = total
	}
	return chunks, nil
}

var _ Chunker = (*SimpleChunker)(nil)

// OverlappingChunker works like SimpleChunker but starts each chunk with
// the trailing lines of the previous one. Overlap preserves context at
// boundaries, which matters when a relevant passage straddles two chunks.
type OverlappingChunker struct {
	opts Options
}

func NewOverlappingChunker(opts Options) *OverlappingChunker {
	opts.SetDefaults()
	if opts.Overlap <= 0 {
		opts.Overlap = opts.Size / 5
	}
	return &OverlappingChunker{opts: opts}
}

func (c *OverlappingChunker) Strategy() Strategy { return StrategyOverlapping }

func (c *OverlappingChunker) Chunk(content string) ([]Chunk, error) {
	if len(content) <= c.opts.Size {
		return []Chunk{{Text: content, Index: 0, Total: 1}}, nil
	}

	lines := strings.Split(content, "\n")

	var chunks []Chunk
	var current []string
	currentLen := 0
	fresh := false // current holds lines beyond the carried overlap

	flush := func() {
		chunks = append(chunks, Chunk{Text: strings.Join(current, "\n"), Index: len(chunks)})

		// Carry trailing lines into the next chunk up to the overlap budget.
		var carry []string
		carryLen := 0
		for i := len(current) - 1; i >= 0 && carryLen < c.opts.Overlap; i-- {
			carry = append([]string{current[i]}, carry...)
			carryLen += len(current[i]) + 1
		}
		current = carry
		currentLen = carryLen
		fresh = false
	}

	for _, line := range lines {
		current = append(current, line)
		currentLen += len(line) + 1
		fresh = true
		if currentLen >= c.opts.Size {
			flush()
		}
	}

	// The remainder is emitted only if it holds content the previous chunk
	// does not already cover.
	if len(chunks) == 0 || fresh {
		chunks = append(chunks, Chunk{Text: strings.Join(current, "\n"), Index: len(chunks)})
	}

	total := len(chunks)
	for i := range chunks {
		chunks[i].Total = total
	}
	return chunks, nil
}

var _ Chunker = (*OverlappingChunker)(nil)
