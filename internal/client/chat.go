package client

import (
	"sync"

	"github.com/npezzotti/go-readroom/internal/types"
)

// ChatRelay is an append-only message log kept in arrival order.
type ChatRelay struct {
	mu       sync.RWMutex
	messages []types.ChatMessage
	seen     map[string]struct{}
	onAppend func(types.ChatMessage)
}

func NewChatRelay() *ChatRelay {
	return &ChatRelay{seen: make(map[string]struct{})}
}

func (c *ChatRelay) OnAppend(fn func(types.ChatMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAppend = fn
}

// Hydrate seeds the log from a history page delivered most recent first.
func (c *ChatRelay) Hydrate(history []types.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = make([]types.ChatMessage, 0, len(history))
	c.seen = make(map[string]struct{}, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if _, dup := c.seen[msg.ChatId]; dup {
			continue
		}
		c.seen[msg.ChatId] = struct{}{}
		c.messages = append(c.messages, msg)
	}
}

// Append adds a live message. A message already present is ignored.
func (c *ChatRelay) Append(msg types.ChatMessage) bool {
	c.mu.Lock()
	if _, dup := c.seen[msg.ChatId]; dup {
		c.mu.Unlock()
		return false
	}
	c.seen[msg.ChatId] = struct{}{}
	c.messages = append(c.messages, msg)
	fn := c.onAppend
	c.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
	return true
}

func (c *ChatRelay) Messages() []types.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.ChatMessage(nil), c.messages...)
}

func (c *ChatRelay) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
