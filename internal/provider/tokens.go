package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for budget accounting and context
// fitting. Estimates do not need to match provider billing exactly; the
// cost guard treats them as approximations.
type TokenCounter struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the given model. Encodings are
// loaded lazily on first use.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

// Count returns the estimated token count of text. When no encoding is
// available for the model it falls back to the rough four characters per
// token heuristic.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				return
			}
		}
		c.enc = enc
	})
	if c.enc == nil {
		return approxTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

func approxTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
