package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiktoken_RoundTrip(t *testing.T) {
	tok, err := NewTiktoken("cl100k_base")
	require.NoError(t, err)
	assert.Equal(t, "cl100k_base", tok.Encoding())

	text := "Tax Topic 101, IRS services for taxpayers with disabilities."
	tokens := tok.Encode(text)
	assert.NotEmpty(t, tokens)
	assert.Less(t, len(tokens), len(text))
	assert.Equal(t, text, tok.Decode(tokens))

	assert.Empty(t, tok.Encode(""))
}

func TestTiktoken_UnknownEncoding(t *testing.T) {
	_, err := NewTiktoken("not-an-encoding")
	assert.Error(t, err)
}

func TestChunker_WithTiktoken(t *testing.T) {
	tok, err := NewTiktoken("cl100k_base")
	require.NoError(t, err)
	c, err := NewChunker(tok, 64, 8)
	require.NoError(t, err)

	text := strings.Repeat("You may be able to deduct qualified medical expenses. ", 60)
	n := len(tok.Encode(text))
	chunks := c.Chunk(text)

	assert.Len(t, chunks, len(c.Windows(n)))
	for _, chunk := range chunks {
		// Re-encoding may drift by a token at the edges but never far past the window.
		assert.LessOrEqual(t, len(tok.Encode(chunk)), 64+2)
	}
}
