package connector

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/frdeange/BotPlusAzureOpenAI/activity"
)

type recordingSender struct {
	sent    []activity.Activity
	replies []activity.Activity
	fail    bool
}

func (r *recordingSender) SendToConversation(ctx context.Context, a activity.Activity) (string, error) {
	if r.fail {
		return "", fmt.Errorf("channel down")
	}
	r.sent = append(r.sent, a)
	return fmt.Sprintf("id-%d", len(r.sent)), nil
}

func (r *recordingSender) ReplyToActivity(ctx context.Context, a activity.Activity) (string, error) {
	if r.fail {
		return "", fmt.Errorf("channel down")
	}
	r.replies = append(r.replies, a)
	return fmt.Sprintf("reply-%d", len(r.replies)), nil
}

func refActivity() activity.Activity {
	return activity.Activity{
		Type:         activity.TypeMessage,
		ID:           "inbound-1",
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com/emea/",
		From:         activity.ChannelAccount{ID: "user-1"},
		Recipient:    activity.ChannelAccount{ID: "bot-1"},
		Conversation: activity.ConversationAccount{ID: "conv-1"},
	}
}

func TestStreamSenderFlushesAndFinalizes(t *testing.T) {
	t.Parallel()

	rec := &recordingSender{}
	s, err := NewStreamSender(rec, refActivity(), StreamOptions{
		Interval:         time.Nanosecond,
		FeedbackLoop:     true,
		AIGeneratedLabel: true,
	})
	if err != nil {
		t.Fatalf("new stream sender: %v", err)
	}

	ctx := context.Background()
	for _, chunk := range []string{"The ", "answer ", "is 42."} {
		time.Sleep(time.Millisecond)
		if err := s.QueueTextChunk(ctx, chunk); err != nil {
			t.Fatalf("queue: %v", err)
		}
	}
	if err := s.EndStream(ctx); err != nil {
		t.Fatalf("end stream: %v", err)
	}

	if len(rec.sent) == 0 {
		t.Fatalf("expected informative updates")
	}
	for i, a := range rec.sent {
		if a.Type != activity.TypeTyping {
			t.Fatalf("update %d should be typing, got %q", i, a.Type)
		}
		if a.ChannelData["streamType"] != "streaming" {
			t.Fatalf("update %d channel data: %#v", i, a.ChannelData)
		}
	}

	if len(rec.replies) != 1 {
		t.Fatalf("expected exactly one final message, got %d", len(rec.replies))
	}
	final := rec.replies[0]
	if final.Text != "The answer is 42." {
		t.Fatalf("final text: %q", final.Text)
	}
	if final.ChannelData["streamType"] != "final" {
		t.Fatalf("final channel data: %#v", final.ChannelData)
	}
	if final.ChannelData["feedbackLoopEnabled"] != true {
		t.Fatalf("feedback loop not enabled: %#v", final.ChannelData)
	}
	if len(final.Entities) != 1 {
		t.Fatalf("expected AI label entity, got %#v", final.Entities)
	}
}

func TestStreamSenderSequencesAreMonotonic(t *testing.T) {
	t.Parallel()

	rec := &recordingSender{}
	s, err := NewStreamSender(rec, refActivity(), StreamOptions{Interval: time.Nanosecond})
	if err != nil {
		t.Fatalf("new stream sender: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		if err := s.QueueTextChunk(ctx, "x"); err != nil {
			t.Fatalf("queue: %v", err)
		}
	}
	if err := s.EndStream(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	last := 0
	all := append(append([]activity.Activity{}, rec.sent...), rec.replies...)
	for _, a := range all {
		seq, ok := a.ChannelData["streamSequence"].(int)
		if !ok {
			t.Fatalf("missing sequence: %#v", a.ChannelData)
		}
		if seq <= last {
			t.Fatalf("sequence not increasing: %d after %d", seq, last)
		}
		last = seq
	}
}

func TestEndStreamWithoutChunksPostsNothing(t *testing.T) {
	t.Parallel()

	rec := &recordingSender{}
	s, err := NewStreamSender(rec, refActivity(), StreamOptions{})
	if err != nil {
		t.Fatalf("new stream sender: %v", err)
	}
	if err := s.EndStream(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(rec.sent)+len(rec.replies) != 0 {
		t.Fatalf("expected no activity, got %d/%d", len(rec.sent), len(rec.replies))
	}
	if err := s.EndStream(context.Background()); err != nil {
		t.Fatalf("second end should be a no-op: %v", err)
	}
}

func TestQueueAfterEndFails(t *testing.T) {
	t.Parallel()

	s, err := NewStreamSender(&recordingSender{}, refActivity(), StreamOptions{})
	if err != nil {
		t.Fatalf("new stream sender: %v", err)
	}
	if err := s.EndStream(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := s.QueueTextChunk(context.Background(), "late"); err == nil || !strings.Contains(err.Error(), "ended") {
		t.Fatalf("expected ended error, got: %v", err)
	}
}
