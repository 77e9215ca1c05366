package state

import (
	"context"
	"sync"
	"time"

	"github.com/frdeange/BotPlusAzureOpenAI/llm"
)

type expiringString struct {
	value     string
	expiresAt time.Time
}

func (e expiringString) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the process-local backend. Good enough for a single
// replica; everything is lost on restart, which matches the channel's own
// conversation semantics.
type MemoryStore struct {
	mu      sync.Mutex
	history map[string][]llm.Message
	pending map[string]expiringString
	tokens  map[string]expiringString
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[string][]llm.Message),
		pending: make(map[string]expiringString),
		tokens:  make(map[string]expiringString),
		now:     time.Now,
	}
}

func (s *MemoryStore) AppendHistory(ctx context.Context, conversationKey string, msgs ...llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[conversationKey] = append(s.history[conversationKey], msgs...)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, conversationKey string, maxTurns int) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := TrimHistory(s.history[conversationKey], maxTurns)
	out := make([]llm.Message, len(h))
	copy(out, h)
	return out, nil
}

func (s *MemoryStore) ClearHistory(ctx context.Context, conversationKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, conversationKey)
	return nil
}

func (s *MemoryStore) SetPendingSignIn(ctx context.Context, userKey string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userKey] = expiringString{value: "1", expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) PendingSignIn(ctx context.Context, userKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[userKey]
	if !ok {
		return false, nil
	}
	if e.expired(s.now()) {
		delete(s.pending, userKey)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) ClearPendingSignIn(ctx context.Context, userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userKey)
	return nil
}

func (s *MemoryStore) CacheToken(ctx context.Context, userKey, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userKey] = expiringString{value: token, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) CachedToken(ctx context.Context, userKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[userKey]
	if !ok {
		return "", nil
	}
	if e.expired(s.now()) {
		delete(s.tokens, userKey)
		return "", nil
	}
	return e.value, nil
}

func (s *MemoryStore) ClearToken(ctx context.Context, userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userKey)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
