package llm

import (
	"sync"

	"github.com/RichardoC/office-gpt/internal/models"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const fallbackEncoding = "cl100k_base"

// TokenCounter estimates prompt size with the model's BPE encoding. The
// encoding is loaded on first use; if loading fails counting is disabled.
// A nil *TokenCounter counts nothing.
type TokenCounter struct {
	model  string
	logger *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTokenCounter(model string, logger *zap.Logger) *TokenCounter {
	return &TokenCounter{model: model, logger: logger}
}

func (c *TokenCounter) load() {
	enc, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		c.logger.Warn("token counting disabled", zap.String("model", c.model), zap.Error(err))
		return
	}
	c.enc = enc
}

// Count returns the estimated number of tokens in the messages and whether an
// estimate was available.
func (c *TokenCounter) Count(history []models.Message) (int, bool) {
	if c == nil {
		return 0, false
	}
	c.once.Do(c.load)
	if c.enc == nil {
		return 0, false
	}

	total := 0
	for _, msg := range history {
		// Every chat message carries a few tokens of framing besides its text.
		total += 4 + len(c.enc.Encode(msg.Role, nil, nil)) + len(c.enc.Encode(msg.Content, nil, nil))
	}
	return total + 3, true
}
