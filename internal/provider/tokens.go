package provider

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const runesPerToken = 4

// TokenBudget caps LLM input text at a token count. The encoding is loaded
// on first use; when it cannot be loaded the budget falls back to a
// rune-count estimate.
type TokenBudget struct {
	max  int
	once sync.Once
	load func() (*tiktoken.Tiktoken, error)
	enc  *tiktoken.Tiktoken
}

// NewTokenBudget creates a budget of max tokens using cl100k_base.
// max <= 0 disables truncation.
func NewTokenBudget(max int) *TokenBudget {
	return &TokenBudget{
		max:  max,
		load: func() (*tiktoken.Tiktoken, error) { return tiktoken.GetEncoding("cl100k_base") },
	}
}

func (b *TokenBudget) encoding() *tiktoken.Tiktoken {
	b.once.Do(func() {
		if b.load == nil {
			return
		}
		enc, err := b.load()
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, estimating tokens from runes", "error", err)
			return
		}
		b.enc = enc
	})
	return b.enc
}

// Count returns the token count of text.
func (b *TokenBudget) Count(text string) int {
	if b != nil {
		if enc := b.encoding(); enc != nil {
			return len(enc.Encode(text, nil, nil))
		}
	}
	n := len([]rune(text))
	return (n + runesPerToken - 1) / runesPerToken
}

// Truncate returns text cut to the budget and whether it was cut.
func (b *TokenBudget) Truncate(text string) (string, bool) {
	if b == nil || b.max <= 0 || text == "" {
		return text, false
	}
	if enc := b.encoding(); enc != nil {
		toks := enc.Encode(text, nil, nil)
		if len(toks) <= b.max {
			return text, false
		}
		return enc.Decode(toks[:b.max]), true
	}
	runes := []rune(text)
	limit := b.max * runesPerToken
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]), true
}
