package chat

import "gamechat/internal/user"

// Message is the canonical chat message. It is immutable once published.
type Message struct {
	ID        string        `json:"id"`
	Author    user.Identity `json:"author"`
	Content   string        `json:"content"`
	ReplyToID *string       `json:"replyToId"`
}

// Limits are the per-channel send constraints.
type Limits struct {
	MaxMessageLength  int `json:"maxMessageLength"`
	RateLimitCount    int `json:"rateLimitCount"`
	RateLimitWindowMs int `json:"rateLimitWindowMs"`
}

// PublishRequest is what the client sends to /chat/publish.
type PublishRequest struct {
	Channel   string  `json:"channel"`
	Content   string  `json:"content"`
	ReplyToID *string `json:"replyToId,omitempty"`
}
