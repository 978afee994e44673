package aiadapter

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"orchestrator/pkg/convo"
)

// TokenCounter prices conversation content in tokens for
// ConversationHistory.totalTokens (spec §3), lazily building one codec per
// encoding and reusing it across calls.
type TokenCounter struct {
	mu     sync.Mutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewTokenCounter returns a ready-to-use TokenCounter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

func (t *TokenCounter) codecFor(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.codecs[enc]; ok {
		return c, nil
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	t.codecs[enc] = c
	return c, nil
}

// Count returns the token count of text under the cl100k_base encoding
// (the encoding shared by GPT-4-class and Claude-class tokenizers for
// estimation purposes).
func (t *TokenCounter) Count(text string) int {
	codec, err := t.codecFor(tokenizer.Cl100kBase)
	if err != nil {
		// Fall back to a conservative 4-chars-per-token estimate if the
		// encoding table can't be loaded.
		return (len(text) + 3) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// CountMessages sums the token cost of a message slice plus the system
// prompt, used to price one conversation turn before it is sent.
func (t *TokenCounter) CountMessages(systemPrompt string, messages []convo.Message) int {
	total := t.Count(systemPrompt)
	for _, m := range messages {
		total += t.Count(m.Content)
	}
	return total
}
