// Package chat defines the chat history message exchanged between the agent
// (server) and the human operator (user).
package chat

import "time"

// Author identifies who wrote a message.
type Author string

const (
	AuthorUser   Author = "user"
	AuthorServer Author = "server"
)

// Message is immutable once appended to the history.
type Message struct {
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
