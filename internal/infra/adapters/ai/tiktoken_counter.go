package ai

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"endless-chat/internal/domain/model"
	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/infra/metrics"
)

// Compile-time check
var (
	_ adapter.TokenCounter = (*TiktokenCounter)(nil)
	_ adapter.Resetter     = (*TiktokenCounter)(nil)
)

// Chat format overhead, as counted by the OpenAI cookbook for gpt-3.5/4.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

type encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// TiktokenCounter counts chat tokens with a BPE encoding and memoizes the
// per-message cost until Reset.
type TiktokenCounter struct {
	enc encoder

	mu    sync.Mutex
	cache map[model.Message]int
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return newTiktokenCounter(enc), nil
}

func newTiktokenCounter(enc encoder) *TiktokenCounter {
	return &TiktokenCounter{enc: enc, cache: make(map[model.Message]int)}
}

func (c *TiktokenCounter) CountTokens(messages []model.Message) adapter.TokenCount {
	if len(messages) == 0 {
		return adapter.TokenCount{}
	}
	total := tokensPerReply
	for _, m := range messages {
		total += c.messageTokens(m)
	}
	return adapter.TokenCount{Total: total}
}

func (c *TiktokenCounter) messageTokens(m model.Message) int {
	c.mu.Lock()
	n, ok := c.cache[m]
	c.mu.Unlock()
	metrics.IncCacheRequest("token_count", ok)
	if ok {
		return n
	}

	n = tokensPerMessage +
		len(c.enc.Encode(string(m.Role), nil, nil)) +
		len(c.enc.Encode(m.Content, nil, nil))

	c.mu.Lock()
	c.cache[m] = n
	c.mu.Unlock()
	return n
}

// Reset drops the memoized counts.
func (c *TiktokenCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.cache)
}
