package redis

import (
	"context"
	"fmt"
	"time"

	"canteen-sync/internal/general/logger"

	"github.com/redis/go-redis/v9"
)

// NewClient parses a redis:// or rediss:// URL, verifies connectivity and
// returns the client.
func NewClient(ctx context.Context, url string, log *logger.Logger) (*redis.Client, error) {
	if log == nil {
		log = logger.Discard()
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info(ctx, "redis_connected", "connected to Redis", map[string]any{
		"addr": opts.Addr,
		"db":   opts.DB,
	})
	return client, nil
}
