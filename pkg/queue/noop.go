package queue

import (
	"context"
	"log/slog"
)

// NoopQueue stands in when no broker is reachable. Nothing is ever enqueued.
type NoopQueue struct {
	logger *slog.Logger
}

func NewNoopQueue(logger *slog.Logger) *NoopQueue {
	return &NoopQueue{logger: logger.With("module", "queue", "backend", "noop")}
}

func (q *NoopQueue) Enqueue(ctx context.Context, job *Job) (bool, error) {
	q.logger.WarnContext(ctx, "Queue unavailable, job not enqueued", "job_id", job.ID, "job_type", job.Type)

	return false, nil
}

// Start blocks until ctx is cancelled.
func (q *NoopQueue) Start(ctx context.Context, _ Handler) error {
	q.logger.WarnContext(ctx, "Queue unavailable, no jobs will be processed")

	<-ctx.Done()

	return nil
}

func (q *NoopQueue) Failed(context.Context, int) ([]*Job, error) {
	return []*Job{}, nil
}

func (q *NoopQueue) Available() bool {
	return false
}

func (q *NoopQueue) Close() error {
	return nil
}
