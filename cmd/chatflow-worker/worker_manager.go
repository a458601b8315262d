package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/queue"
	"github.com/dukex/chatflow/pkg/workflow"
)

type WorkerManager struct {
	id         string
	logger     *slog.Logger
	eventBus   eventbus.EventBus
	dispatcher *workflow.Dispatcher
	queue      queue.Queue
	done       chan struct{}
}

func NewWorkerManager(
	id string,
	eventBus eventbus.EventBus,
	dispatcher *workflow.Dispatcher,
	q queue.Queue,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:         id,
		logger:     logger.With("module", "chatflow-worker", "worker_id", id),
		eventBus:   eventBus,
		dispatcher: dispatcher,
		queue:      q,
		done:       make(chan struct{}),
	}
}

// Start subscribes to inbound trigger events and starts the job pool. It returns once
// both are running; the pool stops when ctx is cancelled.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.TriggerReceivedEvent, w.handleTriggerReceived)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	go func() {
		defer close(w.done)

		if err := w.queue.Start(ctx, w.dispatcher.HandleJob); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "Job pool stopped", "error", err)
		}
	}()

	w.logger.InfoContext(ctx, "Worker started successfully", "queue_available", w.queue.Available())

	return nil
}

// Wait blocks until the job pool has drained after ctx cancellation.
func (w *WorkerManager) Wait() {
	<-w.done
}

// handleTriggerReceived never asks for redelivery: failed runs are already recorded in
// the execution log and published as execution.failed.
func (w *WorkerManager) handleTriggerReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.TriggerReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

		return nil
	}

	logger := w.logger.With(
		"project_id", received.Trigger.ProjectID,
		"session_id", received.Trigger.Session(),
		"event_id", received.ID,
	)
	logger.DebugContext(ctx, "Processing trigger received event", "kind", received.Trigger.Kind)

	logs, err := w.dispatcher.Dispatch(ctx, received.Trigger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to handle trigger", "error", err)

		return nil
	}

	logger.InfoContext(ctx, "Trigger handled", "runs", len(logs))

	return nil
}
