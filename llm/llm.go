package llm

import (
	"context"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Result struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

type Request struct {
	Model      string
	Messages   []Message
	ForceJSON  bool
	Parameters map[string]any
}

type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
}

// Delta is one streamed fragment of a completion.
type Delta struct {
	Text string
	Done bool
}

// Streamer is implemented by providers that can deliver a completion
// incrementally. onDelta is called once per fragment, in order, from a
// single goroutine; the final call has Done set. Returning an error from
// onDelta aborts the stream.
type Streamer interface {
	ChatStream(ctx context.Context, req Request, onDelta func(Delta) error) (Result, error)
}
