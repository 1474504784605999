package embedding

import (
	"strings"
)

const (
	// DefaultChunkSize is the word count per chunk
	DefaultChunkSize = 60

	// DefaultChunkOverlap is the number of words shared between
	// consecutive chunks so phrases spanning a boundary stay searchable
	DefaultChunkOverlap = 12
)

// Chunker splits caption text into overlapping word windows. Generated
// descriptions are usually a sentence or two, so most captions embed as a
// single chunk; the window only matters for the verbose models.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap,
// falling back to defaults for out-of-range values.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split breaks text into overlapping chunks of whitespace-separated words.
// Empty or whitespace-only text yields no chunks.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	if len(words) <= c.size {
		return []string{strings.Join(words, " ")}
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + c.size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}

	return chunks
}
