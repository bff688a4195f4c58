package text

import (
	"errors"

	"taxrag/apps/ingestor/internal/config"
)

var ErrTokenizerRequired = errors.New("tokenizer required")

// Tokenizer converts text to token ids and back. It must use the same
// vocabulary as the downstream embedding model so window sizes are honest.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Window is a half-open token range [Start, End).
type Window struct {
	Start int
	End   int
}

func (w Window) Len() int { return w.End - w.Start }

// Chunker splits text into overlapping windows of at most maxTokens tokens.
//
// Decoding a window is not guaranteed to be byte-identical to the matching
// slice of the input: a boundary can fall inside a multi-byte character or a
// merged BPE token, in which case the decoded text differs at the edges.
// That loss is accepted; each chunk is only ever embedded, never stitched back.
type Chunker struct {
	tok       Tokenizer
	maxTokens int
	overlap   int
}

// NewChunker validates the window parameters up front. overlap >= maxTokens
// would give a non-positive stride and is rejected with config.ErrInvalidChunking.
func NewChunker(tok Tokenizer, maxTokens, overlap int) (*Chunker, error) {
	if tok == nil {
		return nil, ErrTokenizerRequired
	}
	if err := config.ValidateChunking(maxTokens, overlap); err != nil {
		return nil, err
	}
	return &Chunker{tok: tok, maxTokens: maxTokens, overlap: overlap}, nil
}

func (c *Chunker) Stride() int { return c.maxTokens - c.overlap }

// Windows returns the windows covering a sequence of n tokens. Window k starts
// at k*Stride() and the last one may be shorter than maxTokens.
func (c *Chunker) Windows(n int) []Window {
	if n <= 0 {
		return nil
	}
	stride := c.Stride()
	windows := make([]Window, 0, (n+stride-1)/stride)
	for start := 0; start < n; start += stride {
		end := start + c.maxTokens
		if end > n {
			end = n
		}
		windows = append(windows, Window{Start: start, End: end})
	}
	return windows
}

// Chunk tokenizes text and decodes each window back to a string.
// Text with no tokens yields no chunks.
func (c *Chunker) Chunk(text string) []string {
	tokens := c.tok.Encode(text)
	windows := c.Windows(len(tokens))
	if len(windows) == 0 {
		return nil
	}

	chunks := make([]string, 0, len(windows))
	for _, w := range windows {
		chunks = append(chunks, c.tok.Decode(tokens[w.Start:w.End]))
	}
	return chunks
}
