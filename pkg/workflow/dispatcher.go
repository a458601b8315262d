package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/queue"
)

const (
	heavyReasonBatch     = "batch"
	heavyReasonNodeCount = "node_count"
)

// Dispatcher decides whether an inbound event runs inline or is deferred to the job queue.
type Dispatcher struct {
	executor    *Executor
	queue       queue.Queue
	threshold   int
	maxAttempts int
	logger      *slog.Logger
}

// NewDispatcher reads the heavy-run threshold from cfg.Execution and the job retry ceiling from cfg.Queue.
func NewDispatcher(executor *Executor, q queue.Queue, cfg config.Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		executor:    executor,
		queue:       q,
		threshold:   cfg.Execution.HeavyNodeThreshold,
		maxAttempts: cfg.Queue.MaxAttempts,
		logger:      logger.With("module", "dispatcher"),
	}
}

// Dispatch runs the event inline or enqueues it. Enqueued events return no logs.
// When the queue does not accept the job the event runs inline.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.TriggerEvent) ([]*models.ExecutionLog, error) {
	reason, err := d.classify(ctx, event)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		return d.executor.HandleTrigger(ctx, event)
	}

	priority := queue.PriorityNormal
	if reason == heavyReasonBatch {
		priority = queue.PriorityLow
	}

	job := queue.NewJob(queue.Payload{
		Type:      queue.JobTypeWorkflowExecution,
		ProjectID: event.ProjectID,
		UserID:    event.UserID,
		Context: map[string]any{
			"reason":     reason,
			"workflowId": event.WorkflowID,
			"sessionId":  event.Session(),
		},
		Trigger: event,
	}, priority)

	if d.maxAttempts > 0 {
		job.MaxAttempts = d.maxAttempts
	}

	logger := d.logger.With("project_id", event.ProjectID, "job_id", job.ID, "reason", reason)

	ok, err := d.queue.Enqueue(ctx, job)
	if err != nil {
		logger.WarnContext(ctx, "Failed to enqueue heavy run, executing inline", "error", err)
	}

	if !ok {
		return d.executor.HandleTrigger(ctx, event)
	}

	logger.InfoContext(ctx, "Heavy run deferred to queue")

	return []*models.ExecutionLog{}, nil
}

// HandleJob is the worker pool handler for deferred runs.
func (d *Dispatcher) HandleJob(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeWorkflowExecution {
		return fmt.Errorf("unsupported job type %q", job.Type)
	}

	_, err := d.executor.HandleTrigger(ctx, job.Payload.Trigger)

	return err
}

func (d *Dispatcher) classify(ctx context.Context, event models.TriggerEvent) (string, error) {
	if event.Batch {
		return heavyReasonBatch, nil
	}

	if d.threshold <= 0 {
		return "", nil
	}

	workflows, err := d.executor.repository.FetchForEvent(ctx, event)
	if err != nil {
		return "", err
	}

	for _, workflow := range workflows {
		if workflow.NodeCount() > d.threshold {
			return heavyReasonNodeCount, nil
		}
	}

	return "", nil
}
