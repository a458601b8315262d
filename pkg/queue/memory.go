package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/chatflow/pkg/config"
)

type heapItem struct {
	job *Job
	seq uint64
}

// jobHeap orders by priority, then by enqueue order.
type jobHeap []heapItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}

	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(heapItem)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// MemoryQueue is a process-local queue for development and tests.
type MemoryQueue struct {
	mu          sync.Mutex
	ready       jobHeap
	delayed     []*Job
	failed      []*Job
	failedLimit int
	seq         uint64
	notify      chan struct{}
	pool        *pool
}

func NewMemoryQueue(cfg config.QueueConfig, logger *slog.Logger) *MemoryQueue {
	q := &MemoryQueue{
		failedLimit: int(cfg.FailedLimit),
		notify:      make(chan struct{}, 1),
	}

	q.pool = &pool{
		backend:     q,
		concurrency: cfg.Concurrency,
		backoff:     cfg.Backoff,
		wait:        cfg.PollInterval,
		logger:      logger.With("module", "queue", "backend", "memory"),
		now:         time.Now,
	}

	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) (bool, error) {
	if err := Validate(job); err != nil {
		return false, err
	}

	q.mu.Lock()
	q.push(job)
	q.mu.Unlock()

	q.wake()

	return true, nil
}

func (q *MemoryQueue) Start(ctx context.Context, handler Handler) error {
	return q.pool.run(ctx, handler)
}

// Failed returns the most recently failed jobs first.
func (q *MemoryQueue) Failed(_ context.Context, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, 0, len(q.failed))
	for i := len(q.failed) - 1; i >= 0 && (limit <= 0 || len(jobs) < limit); i-- {
		jobs = append(jobs, q.failed[i])
	}

	return jobs, nil
}

func (q *MemoryQueue) Available() bool {
	return true
}

func (q *MemoryQueue) Close() error {
	return nil
}

// Len returns the number of ready and delayed jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ready) + len(q.delayed)
}

func (q *MemoryQueue) push(job *Job) {
	q.seq++
	heap.Push(&q.ready, heapItem{job: job, seq: q.seq})
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) promote(now time.Time) {
	pending := q.delayed[:0]

	for _, job := range q.delayed {
		if job.RunAt.After(now) {
			pending = append(pending, job)

			continue
		}

		q.push(job)
	}

	q.delayed = pending
}

func (q *MemoryQueue) pop(ctx context.Context, wait time.Duration) (*Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		q.promote(q.pool.now())

		if q.ready.Len() > 0 {
			item := heap.Pop(&q.ready).(heapItem)
			q.mu.Unlock()

			return item.job, nil
		}

		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil
		case <-q.notify:
		case <-timer.C:
			return nil, nil
		}
	}
}

func (q *MemoryQueue) retry(_ context.Context, job *Job) error {
	q.mu.Lock()
	q.delayed = append(q.delayed, job)
	q.mu.Unlock()

	return nil
}

func (q *MemoryQueue) requeue(_ context.Context, job *Job) error {
	q.mu.Lock()
	// seq 0 sorts ahead of every enqueued job of the same priority.
	heap.Push(&q.ready, heapItem{job: job, seq: 0})
	q.mu.Unlock()

	q.wake()

	return nil
}

func (q *MemoryQueue) fail(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.failed = append(q.failed, job)
	if q.failedLimit > 0 && len(q.failed) > q.failedLimit {
		q.failed = q.failed[len(q.failed)-q.failedLimit:]
	}

	return nil
}
