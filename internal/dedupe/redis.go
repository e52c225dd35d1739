package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "storechat:seen:"

// Redis backs the cache with Redis, for multi-instance deployments.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings the Redis server.
func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Seen(ctx context.Context, channel, externalID string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+Key(channel, externalID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Mark(ctx context.Context, channel, externalID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisKeyPrefix+Key(channel, externalID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
