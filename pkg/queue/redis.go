package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/chatflow/pkg/config"
	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chatflow:queue:"

// RedisQueue keeps ready jobs in one list per priority, retries in a sorted set scored
// by due time and exhausted jobs in a trimmed list.
type RedisQueue struct {
	client      redis.UniversalClient
	failedLimit int64
	pool        *pool
	logger      *slog.Logger
}

// New returns a Redis backed queue, or a NoopQueue when client is nil or unreachable.
func New(ctx context.Context, client redis.UniversalClient, cfg config.QueueConfig, logger *slog.Logger) Queue {
	if client == nil {
		logger.WarnContext(ctx, "No queue broker configured, heavy runs will execute inline")

		return NewNoopQueue(logger)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WarnContext(ctx, "Queue broker unreachable, heavy runs will execute inline", "error", err)

		return NewNoopQueue(logger)
	}

	return NewRedisQueue(client, cfg, logger)
}

func NewRedisQueue(client redis.UniversalClient, cfg config.QueueConfig, logger *slog.Logger) *RedisQueue {
	q := &RedisQueue{
		client:      client,
		failedLimit: cfg.FailedLimit,
		logger:      logger.With("module", "queue", "backend", "redis"),
	}

	q.pool = &pool{
		backend:     q,
		concurrency: cfg.Concurrency,
		backoff:     cfg.Backoff,
		wait:        cfg.PollInterval,
		logger:      q.logger,
		now:         time.Now,
	}

	return q
}

func readyKey(priority Priority) string {
	switch priority {
	case PriorityHigh:
		return redisKeyPrefix + "high"
	case PriorityLow:
		return redisKeyPrefix + "low"
	default:
		return redisKeyPrefix + "normal"
	}
}

func delayedKey() string { return redisKeyPrefix + "delayed" }

func failedKey() string { return redisKeyPrefix + "failed" }

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if err := Validate(job); err != nil {
		return false, err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	if err := q.client.LPush(ctx, readyKey(job.Priority), data).Err(); err != nil {
		return false, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	return true, nil
}

func (q *RedisQueue) Start(ctx context.Context, handler Handler) error {
	return q.pool.run(ctx, handler)
}

func (q *RedisQueue) Failed(ctx context.Context, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	values, err := q.client.LRange(ctx, failedKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(values))

	for _, value := range values {
		var job Job
		if err := json.Unmarshal([]byte(value), &job); err != nil {
			q.logger.WarnContext(ctx, "Skipping undecodable failed job", "error", err)

			continue
		}

		jobs = append(jobs, &job)
	}

	return jobs, nil
}

func (q *RedisQueue) Available() bool {
	return true
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// promote moves due retries back to their ready list. ZRem decides which worker owns
// a member, so concurrent promoters never duplicate a job.
func (q *RedisQueue) promote(ctx context.Context, now time.Time) error {
	due, err := q.client.ZRangeByScore(ctx, delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, value := range due {
		removed, err := q.client.ZRem(ctx, delayedKey(), value).Result()
		if err != nil {
			return err
		}

		if removed == 0 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(value), &job); err != nil {
			q.logger.WarnContext(ctx, "Dropping undecodable delayed job", "error", err)

			continue
		}

		if err := q.client.RPush(ctx, readyKey(job.Priority), value).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (q *RedisQueue) pop(ctx context.Context, wait time.Duration) (*Job, error) {
	if err := q.promote(ctx, q.pool.now()); err != nil {
		return nil, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}

	result, err := q.client.BRPop(ctx, wait, readyKey(PriorityHigh), readyKey(PriorityNormal), readyKey(PriorityLow)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}

		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job from %s: %w", result[0], err)
	}

	return &job, nil
}

func (q *RedisQueue) retry(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return q.client.ZAdd(ctx, delayedKey(), redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: string(data),
	}).Err()
}

// requeue pushes to the consuming end of the ready list so the job is popped next.
func (q *RedisQueue) requeue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return q.client.RPush(ctx, readyKey(job.Priority), data).Err()
}

func (q *RedisQueue) fail(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, failedKey(), data)
		pipe.LTrim(ctx, failedKey(), 0, q.failedLimit-1)

		return nil
	})

	return err
}
