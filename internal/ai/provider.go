package ai

import (
	"context"
	"errors"
)

// ErrEmptyReply is returned when a model answers with no content.
var ErrEmptyReply = errors.New("ai: empty reply")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type Completion struct {
	Content string
	Usage   *Usage
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (Completion, error)
}

// Chunk is one piece of a streamed reply. The last chunk of a stream may
// carry Usage and no text.
type Chunk struct {
	Text  string
	Usage *Usage
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan Chunk, <-chan error)
}
