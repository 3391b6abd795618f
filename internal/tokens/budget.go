// Package tokens bounds text by tokenizer length.
package tokens

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used for models tiktoken does not know.
const fallbackEncoding = "cl100k_base"

// Budget trims text to a fixed number of tokens.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// New creates a budget of maxTokens using the tokenizer for model
// (e.g. "gpt-4"). A maxTokens of zero or less disables trimming.
func New(model string, maxTokens int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{tokenizer: enc, maxTokens: maxTokens}, nil
}

// Count returns the token count for a string.
func (b *Budget) Count(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Max returns the configured budget.
func (b *Budget) Max() int {
	return b.maxTokens
}

// Trim returns the longest prefix of text that fits the budget.
func (b *Budget) Trim(text string) string {
	if b.maxTokens <= 0 {
		return text
	}
	toks := b.tokenizer.Encode(text, nil, nil)
	if len(toks) <= b.maxTokens {
		return text
	}
	// A token boundary can fall inside a multi-byte rune; drop the partial rune.
	out := b.tokenizer.Decode(toks[:b.maxTokens])
	for len(out) > 0 && !utf8.ValidString(out) {
		out = out[:len(out)-1]
	}
	return out
}
