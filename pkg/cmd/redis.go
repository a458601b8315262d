package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL (redis://[:password@]host:port/db). An empty URL
// returns nil, which the queue and rate limiter treat as "no shared store".
//
//nolint:ireturn // UniversalClient lets callers swap in a cluster client.
func NewRedisClient(ctx context.Context, logger *slog.Logger, redisURL string) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WarnContext(ctx, "Redis not reachable yet, continuing in degraded mode", "addr", opts.Addr, "error", err)
	} else {
		logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	}

	return client, nil
}
