// Package state keeps the bot's per-conversation working set: chat history
// for prompt context, the pending-sign-in marker used by the magic-code
// exchange, and a short-lived cache of delegated tokens. Backends are
// interchangeable; the memory store is the default, redis survives
// restarts and multiple replicas.
package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/frdeange/BotPlusAzureOpenAI/llm"
)

type Store interface {
	AppendHistory(ctx context.Context, conversationKey string, msgs ...llm.Message) error
	History(ctx context.Context, conversationKey string, maxTurns int) ([]llm.Message, error)
	ClearHistory(ctx context.Context, conversationKey string) error

	SetPendingSignIn(ctx context.Context, userKey string, ttl time.Duration) error
	PendingSignIn(ctx context.Context, userKey string) (bool, error)
	ClearPendingSignIn(ctx context.Context, userKey string) error

	CacheToken(ctx context.Context, userKey, token string, ttl time.Duration) error
	CachedToken(ctx context.Context, userKey string) (string, error)
	ClearToken(ctx context.Context, userKey string) error

	Close() error
}

// ConversationKey scopes history per channel+conversation.
func ConversationKey(channelID, conversationID string) string {
	return fmt.Sprintf("conv:%s:%s", strings.TrimSpace(channelID), strings.TrimSpace(conversationID))
}

// UserKey scopes sign-in state per channel+user.
func UserKey(channelID, userID string) string {
	return fmt.Sprintf("user:%s:%s", strings.TrimSpace(channelID), strings.TrimSpace(userID))
}

// TrimHistory keeps the most recent maxTurns messages. maxTurns <= 0 keeps
// everything.
func TrimHistory(history []llm.Message, maxTurns int) []llm.Message {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}
