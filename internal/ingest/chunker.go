package ingest

import "fmt"

// Chunker splits normalized text into overlapping rune windows. Chunk
// boundaries are measured in runes, never bytes, so multi-byte characters
// are not split.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the window parameters: size must be positive and
// overlap must satisfy 0 < overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap <= 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in (0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the chunks of text in order. Text at most one window long
// yields exactly one chunk; empty text yields none. The slice index is the
// chunk's ordinal.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
