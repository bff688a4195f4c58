package text

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var loaderOnce sync.Once

// Tiktoken is a Tokenizer backed by an OpenAI BPE encoding such as cl100k_base.
// The BPE ranks are embedded in the binary so no download happens at runtime.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

func NewTiktoken(encoding string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", encoding, err)
	}
	return &Tiktoken{encoding: encoding, enc: enc}, nil
}

func (t *Tiktoken) Encoding() string { return t.encoding }

// Encode treats special-token text as ordinary text.
func (t *Tiktoken) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
