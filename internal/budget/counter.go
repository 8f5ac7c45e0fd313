package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens with the model's BPE encoding when one is available,
// falling back to the chars-per-token heuristic.
type Counter struct {
	model         string
	charsPerToken int

	once    sync.Once
	encoder *tiktoken.Tiktoken
}

// NewCounter returns a counter for model. The encoding is loaded on first use.
func NewCounter(model string, charsPerToken int) *Counter {
	return &Counter{model: model, charsPerToken: charsPerToken}
}

// NewHeuristicCounter returns a counter that never loads an encoding.
func NewHeuristicCounter(charsPerToken int) *Counter {
	c := &Counter{charsPerToken: charsPerToken}
	c.once.Do(func() {})
	return c
}

// Count returns the token count of text and whether it is approximate.
func (c *Counter) Count(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	c.once.Do(c.load)
	if c.encoder == nil {
		return Estimate(text, c.charsPerToken), true
	}
	return len(c.encoder.Encode(text, nil, nil)), false
}

func (c *Counter) load() {
	if enc, err := tiktoken.EncodingForModel(c.model); err == nil {
		c.encoder = enc
		return
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		c.encoder = enc
	}
}
