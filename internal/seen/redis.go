package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store against a shared Redis set, so admission is
// consistent across concurrently running job processes. The set carries a
// finite TTL refreshed only when a new member is admitted, so duplicate
// submissions cannot keep the window open.
type Redis struct {
	client *redis.Client
	cmd    redisCommands
	key    string
	ttl    time.Duration
}

// redisCommands is the slice of *redis.Client Admit needs; tests fake it
// with canned results.
type redisCommands interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// RedisConfig holds connection info for the shared store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Key == "" {
		cfg.Key = "crawler:seen_items"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: client, cmd: client, key: cfg.Key, ttl: cfg.TTL}, nil
}

func newRedisWithCommands(cmd redisCommands, key string, ttl time.Duration) *Redis {
	return &Redis{cmd: cmd, key: key, ttl: ttl}
}

// Admit implements Store. SADD is the atomic test-and-insert: the reply is
// the number of members actually added, so 0 means duplicate. A duplicate
// never refreshes the TTL.
func (r *Redis) Admit(ctx context.Context, key string) (bool, error) {
	added, err := r.cmd.SAdd(ctx, r.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd: %w", err)
	}
	if added > 0 && r.ttl > 0 {
		if err := r.cmd.Expire(ctx, r.key, r.ttl).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	}
	return added > 0, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
