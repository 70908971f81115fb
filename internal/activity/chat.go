package activity

import (
	"sync"
	"time"

	"github.com/Strob0t/hitl/internal/domain/chat"
)

// Chat is the append-only conversation between agent and operator.
type Chat struct {
	mu       sync.Mutex
	messages []chat.Message
	now      func() time.Time
}

// NewChat creates an empty chat history.
func NewChat() *Chat {
	return &Chat{now: time.Now}
}

// Append records a message and returns it.
func (c *Chat) Append(author chat.Author, text string) chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := chat.Message{Author: author, Text: text, CreatedAt: c.now().UTC()}
	c.messages = append(c.messages, m)
	return m
}

// All returns the history in order.
func (c *Chat) All() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Chat) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
