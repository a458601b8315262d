package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// backend is the storage side of a queue the worker pool pulls from.
type backend interface {
	// pop waits up to wait for a ready job and returns nil when none arrived.
	pop(ctx context.Context, wait time.Duration) (*Job, error)
	// retry stores the job until job.RunAt.
	retry(ctx context.Context, job *Job) error
	// fail moves the job to the bounded failed list.
	fail(ctx context.Context, job *Job) error
	// requeue puts an interrupted job back at the head of its ready list.
	requeue(ctx context.Context, job *Job) error
}

type pool struct {
	backend     backend
	concurrency int
	backoff     time.Duration
	wait        time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// run starts concurrency workers and blocks until ctx is cancelled.
func (p *pool) run(ctx context.Context, handler Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := range p.concurrency {
		g.Go(func() error {
			p.work(ctx, i, handler)

			return nil
		})
	}

	p.logger.InfoContext(ctx, "Worker pool started", "concurrency", p.concurrency)

	return g.Wait()
}

func (p *pool) work(ctx context.Context, worker int, handler Handler) {
	logger := p.logger.With("worker", worker)

	for ctx.Err() == nil {
		job, err := p.backend.pop(ctx, p.wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger.ErrorContext(ctx, "Failed to fetch job", "error", err)

			select {
			case <-ctx.Done():
			case <-time.After(p.wait):
			}

			continue
		}

		if job != nil {
			p.process(ctx, logger, job, handler)
		}
	}
}

func (p *pool) process(ctx context.Context, logger *slog.Logger, job *Job, handler Handler) {
	logger = logger.With("job_id", job.ID, "job_type", job.Type)
	start := p.now()

	job.Attempts++
	err := safeHandle(ctx, handler, job)
	elapsed := p.now().Sub(start)

	if err == nil {
		logger.InfoContext(ctx, "Job completed", "attempts", job.Attempts, "elapsed", elapsed)

		return
	}

	// The worker context may already be cancelled; bookkeeping writes must still land.
	bg := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		job.Attempts--

		if rerr := p.backend.requeue(bg, job); rerr != nil {
			logger.ErrorContext(bg, "Failed to requeue interrupted job", "error", rerr)

			return
		}

		logger.WarnContext(bg, "Job interrupted by shutdown, requeued", "attempts", job.Attempts, "elapsed", elapsed, "error", err)

		return
	}

	job.LastError = err.Error()

	if job.Exhausted() {
		job.FailedAt = p.now().UTC()

		if ferr := p.backend.fail(bg, job); ferr != nil {
			logger.ErrorContext(bg, "Failed to record failed job", "error", ferr)
		}

		logger.ErrorContext(bg, "Job failed permanently", "attempts", job.Attempts, "elapsed", elapsed, "error", err)

		return
	}

	delay := Backoff(p.backoff, job.Attempts)
	job.RunAt = p.now().Add(delay).UTC()

	if rerr := p.backend.retry(bg, job); rerr != nil {
		logger.ErrorContext(bg, "Failed to schedule job retry", "error", rerr)
	}

	logger.WarnContext(bg, "Job failed, retrying", "attempts", job.Attempts, "elapsed", elapsed, "retry_in", delay, "error", err)
}

func safeHandle(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()

	return handler(ctx, job)
}
