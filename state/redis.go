package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frdeange/BotPlusAzureOpenAI/llm"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// HistoryTTL bounds how long an idle conversation keeps its history.
	HistoryTTL time.Duration
	// KeyPrefix namespaces this bot's keys on a shared instance.
	KeyPrefix string
}

// RedisStore keeps state in redis so restarts and multiple replicas share
// one view. History lives in a list of JSON messages, pending/token
// markers in plain keys with TTLs.
type RedisStore struct {
	rdb        *redis.Client
	historyTTL time.Duration
	prefix     string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "botplus"
	}
	historyTTL := cfg.HistoryTTL
	if historyTTL <= 0 {
		historyTTL = 24 * time.Hour
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{rdb: rdb, historyTTL: historyTTL, prefix: prefix}, nil
}

// Ping verifies connectivity; serve calls it once at startup so a bad addr
// fails fast instead of on the first message.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) AppendHistory(ctx context.Context, conversationKey string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := s.key(conversationKey)
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal history message: %w", err)
		}
		values = append(values, raw)
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, s.historyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) History(ctx context.Context, conversationKey string, maxTurns int) ([]llm.Message, error) {
	key := s.key(conversationKey)
	start := int64(0)
	if maxTurns > 0 {
		start = int64(-maxTurns)
	}
	raw, err := s.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]llm.Message, 0, len(raw))
	for _, r := range raw {
		var m llm.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode history message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) ClearHistory(ctx context.Context, conversationKey string) error {
	return s.rdb.Del(ctx, s.key(conversationKey)).Err()
}

func (s *RedisStore) SetPendingSignIn(ctx context.Context, userKey string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return s.rdb.Set(ctx, s.key("pending:"+userKey), "1", ttl).Err()
}

func (s *RedisStore) PendingSignIn(ctx context.Context, userKey string) (bool, error) {
	_, err := s.rdb.Get(ctx, s.key("pending:"+userKey)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) ClearPendingSignIn(ctx context.Context, userKey string) error {
	return s.rdb.Del(ctx, s.key("pending:"+userKey)).Err()
}

func (s *RedisStore) CacheToken(ctx context.Context, userKey, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return s.rdb.Set(ctx, s.key("token:"+userKey), token, ttl).Err()
}

func (s *RedisStore) CachedToken(ctx context.Context, userKey string) (string, error) {
	v, err := s.rdb.Get(ctx, s.key("token:"+userKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *RedisStore) ClearToken(ctx context.Context, userKey string) error {
	return s.rdb.Del(ctx, s.key("token:"+userKey)).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) key(suffix string) string {
	return s.prefix + ":" + suffix
}
