package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frdeange/BotPlusAzureOpenAI/activity"
)

// StreamSender turns queued text chunks into the channel's streaming
// protocol: informative typing activities while tokens arrive, then a final
// message carrying the full text. All methods are safe for a single
// producer; EndStream must always run, streaming is broken otherwise.
type StreamSender struct {
	sender Sender
	ref    activity.Activity

	interval     time.Duration
	feedbackLoop bool
	aiLabel      bool

	mu        sync.Mutex
	streamID  string
	sequence  int
	buf       strings.Builder
	lastFlush time.Time
	ended     bool
}

type StreamOptions struct {
	// Interval is the minimum spacing between informative updates.
	Interval time.Duration
	// FeedbackLoop asks the channel to render feedback buttons on the
	// final message.
	FeedbackLoop bool
	// AIGeneratedLabel marks the final message as AI-generated.
	AIGeneratedLabel bool
}

func NewStreamSender(sender Sender, ref activity.Activity, opts StreamOptions) (*StreamSender, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if strings.TrimSpace(ref.Conversation.ID) == "" {
		return nil, fmt.Errorf("reference activity has no conversation")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	return &StreamSender{
		sender:       sender,
		ref:          ref,
		interval:     interval,
		feedbackLoop: opts.FeedbackLoop,
		aiLabel:      opts.AIGeneratedLabel,
		streamID:     uuid.NewString(),
	}, nil
}

// QueueTextChunk appends text and flushes an informative update when the
// interval has elapsed. Flush errors are returned but leave the buffer
// intact, so the final message still carries the full text.
func (s *StreamSender) QueueTextChunk(ctx context.Context, text string) error {
	if s == nil {
		return fmt.Errorf("stream sender is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("stream already ended")
	}
	s.buf.WriteString(text)
	if time.Since(s.lastFlush) < s.interval {
		return nil
	}
	return s.flushLocked(ctx)
}

func (s *StreamSender) flushLocked(ctx context.Context) error {
	partial := s.buf.String()
	if strings.TrimSpace(partial) == "" {
		return nil
	}
	s.sequence++
	a := s.ref.Reply(activity.TypeTyping, partial)
	a.ReplyToID = ""
	a.ChannelData = map[string]any{
		"streamType":     "streaming",
		"streamId":       s.streamID,
		"streamSequence": s.sequence,
	}
	s.lastFlush = time.Now()
	if _, err := s.sender.SendToConversation(ctx, a); err != nil {
		return fmt.Errorf("stream update: %w", err)
	}
	return nil
}

// EndStream sends the final message with the accumulated text. Queuing
// after EndStream fails; calling EndStream twice is a no-op. An empty
// buffer ends the stream without posting anything.
func (s *StreamSender) EndStream(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("stream sender is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true

	full := s.buf.String()
	if strings.TrimSpace(full) == "" {
		return nil
	}
	s.sequence++
	a := s.ref.Reply(activity.TypeMessage, full)
	a.ChannelData = map[string]any{
		"streamType":     "final",
		"streamId":       s.streamID,
		"streamSequence": s.sequence,
	}
	if s.feedbackLoop {
		a.ChannelData["feedbackLoopEnabled"] = true
	}
	if s.aiLabel {
		a.Entities = append(a.Entities, activity.NewAIGeneratedEntity())
	}
	if _, err := s.sender.ReplyToActivity(ctx, a); err != nil {
		return fmt.Errorf("stream final: %w", err)
	}
	return nil
}

// StreamID identifies this stream in channel data, useful for logs.
func (s *StreamSender) StreamID() string {
	if s == nil {
		return ""
	}
	return s.streamID
}
