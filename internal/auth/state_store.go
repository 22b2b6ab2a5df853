package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore はOAuthのstateパラメータを一時保存する。
// Consumeは一度だけtrueを返し、同じstateの再利用を防ぐ。
type StateStore interface {
	Save(ctx context.Context, state string) error
	Consume(ctx context.Context, state string) (bool, error)
}

const redisStateKeyPrefix = "afrivac:oauth_state:"

// RedisStateStore はRedisによるStateStoreの実装。複数インスタンス構成で使う。
type RedisStateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStateStore はRedisStateStoreを生成する。
func NewRedisStateStore(rdb *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, ttl: ttl}
}

// NewRedisClient はredis://形式のURLからクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Save はstateをTTL付きで保存する。既に存在する場合はエラー。
func (s *RedisStateStore) Save(ctx context.Context, state string) error {
	ok, err := s.rdb.SetNX(ctx, redisStateKeyPrefix+state, "1", s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}
	if !ok {
		return errors.New("oauth state collision")
	}
	return nil
}

// Consume はstateを取得と同時に削除する。
func (s *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	_, err := s.rdb.GetDel(ctx, redisStateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	return true, nil
}

// MemoryStateStore はプロセス内メモリによるStateStoreの実装。
// REDIS_URL未設定の単一インスタンス構成で使う。
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryStateStore はMemoryStateStoreを生成する。
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Save はstateを保存し、ついでに期限切れのものを掃除する。
func (s *MemoryStateStore) Save(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.states {
		if !now.Before(exp) {
			delete(s.states, k)
		}
	}
	if _, exists := s.states[state]; exists {
		return errors.New("oauth state collision")
	}
	s.states[state] = now.Add(s.ttl)
	return nil
}

// Consume は期限内のstateであればtrueを返して削除する。
func (s *MemoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.states[state]
	if !ok {
		return false, nil
	}
	delete(s.states, state)
	return s.now().Before(exp), nil
}

// compile-time interface check
var (
	_ StateStore = (*RedisStateStore)(nil)
	_ StateStore = (*MemoryStateStore)(nil)
)
