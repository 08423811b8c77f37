package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/workflow"
)

// RedisConfig configures the Redis-backed thread store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

const threadKeyPrefix = "scout:thread:"

// RedisStore persists thread states in Redis so a restarted service (or a
// second instance behind the same balancer) can serve fetch-state resyncs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects and pings the Redis instance.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// Save implements workflow.StateStore.
func (s *RedisStore) Save(ctx context.Context, st *workflow.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal thread state: %w", err)
	}
	if err := s.client.Set(ctx, threadKeyPrefix+st.ThreadID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save thread state: %w", err)
	}
	return nil
}

// Load implements workflow.StateStore. Loading refreshes the key's TTL so
// active threads outlive idle ones.
func (s *RedisStore) Load(ctx context.Context, threadID string) (*workflow.State, bool, error) {
	key := threadKeyPrefix + threadID
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load thread state: %w", err)
	}
	var st workflow.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false, fmt.Errorf("unmarshal thread state: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to refresh thread TTL",
			zap.String("thread_id", threadID), zap.Error(err))
	}
	return &st, true, nil
}

// Delete implements workflow.StateStore.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	return s.client.Del(ctx, threadKeyPrefix+threadID).Err()
}

// Close releases the client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
