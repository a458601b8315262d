package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/queue"
	"github.com/redis/go-redis/v9"
)

// NewQueue creates the job queue for backend "redis", "memory" or "none".
// The redis backend falls back to a no-op queue when client is nil or unreachable.
//
//nolint:ireturn // the backend is chosen at runtime.
func NewQueue(ctx context.Context, backend string, client redis.UniversalClient, cfg config.QueueConfig, logger *slog.Logger) (queue.Queue, error) {
	switch backend {
	case "redis", "":
		return queue.New(ctx, client, cfg, logger), nil
	case "memory":
		return queue.NewMemoryQueue(cfg, logger), nil
	case "none":
		return queue.NewNoopQueue(logger), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", backend)
	}
}
