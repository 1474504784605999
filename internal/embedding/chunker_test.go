package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyText(t *testing.T) {
	chunker := NewChunker(60, 12)

	assert.Nil(t, chunker.Split(""))
	assert.Nil(t, chunker.Split("   \n\t  "))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	chunker := NewChunker(60, 12)

	chunks := chunker.Split("a cat wearing sunglasses on a beach")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a cat wearing sunglasses on a beach", chunks[0])
}

func TestSplitNormalizesWhitespace(t *testing.T) {
	chunker := NewChunker(60, 12)

	chunks := chunker.Split("  a   cat\n\twearing  sunglasses ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a cat wearing sunglasses", chunks[0])
}

func TestSplitLongTextOverlappingWindows(t *testing.T) {
	chunker := NewChunker(10, 3)

	words := make([]string, 25)
	for i := range words {
		words[i] = string(rune('a' + i))
	}
	chunks := chunker.Split(strings.Join(words, " "))

	// Windows step by size-overlap = 7: [0,10) [7,17) [14,24) [21,25)
	require.Len(t, chunks, 4)
	assert.Equal(t, strings.Join(words[0:10], " "), chunks[0])
	assert.Equal(t, strings.Join(words[7:17], " "), chunks[1])
	assert.Equal(t, strings.Join(words[14:24], " "), chunks[2])
	assert.Equal(t, strings.Join(words[21:25], " "), chunks[3])

	// Consecutive chunks share the overlap words.
	firstTail := strings.Join(words[7:10], " ")
	assert.True(t, strings.HasSuffix(chunks[0], firstTail))
	assert.True(t, strings.HasPrefix(chunks[1], firstTail))
}

func TestSplitExactWindowBoundary(t *testing.T) {
	chunker := NewChunker(5, 1)

	chunks := chunker.Split("one two three four five")
	require.Len(t, chunks, 1)
}

func TestNewChunkerClampsBadValues(t *testing.T) {
	chunker := NewChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, chunker.size)
	assert.Equal(t, DefaultChunkOverlap, chunker.overlap)

	// Overlap must stay below the window size or the walk never advances.
	chunker = NewChunker(10, 10)
	assert.Equal(t, 10, chunker.size)
	assert.Equal(t, 2, chunker.overlap)
}
