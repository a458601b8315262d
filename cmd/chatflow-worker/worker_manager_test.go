package main

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/chatflow/pkg/channels/gochannel"
	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/mocks"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/nodes/message"
	"github.com/dukex/chatflow/pkg/nodes/trigger"
	"github.com/dukex/chatflow/pkg/persistence/memory"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/queue"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type workerFixture struct {
	store     *memory.Persistence
	bus       eventbus.EventBus
	queue     *queue.MemoryQueue
	messenger *mocks.RecordingMessenger
	worker    *WorkerManager
}

func newWorkerFixture(t *testing.T, threshold int) *workerFixture {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	reg := registry.NewRegistry(slog.Default())
	reg.Register(trigger.New())
	reg.Register(message.New())

	cfg := config.Default()
	cfg.Execution.HeavyNodeThreshold = threshold
	cfg.Queue.PollInterval = 10 * time.Millisecond

	f := &workerFixture{
		store:     memory.NewPersistence(),
		bus:       bus,
		queue:     queue.NewMemoryQueue(cfg.Queue, slog.Default()),
		messenger: &mocks.RecordingMessenger{},
	}

	executor := workflow.NewExecutor(f.store, reg, slog.Default(),
		workflow.WithServices(protocol.Services{Messenger: f.messenger}),
		workflow.WithPublisher(bus),
		workflow.WithConfig(cfg.Execution),
		workflow.WithWorkerID("worker-test"),
	)

	f.worker = NewWorkerManager("worker-test", bus, workflow.NewDispatcher(executor, f.queue, cfg, slog.Default()), f.queue, slog.Default())

	wf := testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{
			testutil.CreateTestNode(testutil.WithID("start"), testutil.WithTriggerNode()),
			testutil.CreateTestNode(testutil.WithID("hello"), testutil.WithTypedConfig(models.NodeTypeMessage, map[string]any{"text": "Hello"})),
		},
		testutil.CreateTestConnection("start", "hello"),
	)
	require.NoError(t, f.store.SaveWorkflow(t.Context(), wf))

	return f
}

func (f *workerFixture) publishStart(t *testing.T) {
	t.Helper()

	event := models.TriggerEvent{ProjectID: "p1", Kind: models.TriggerKindStart, UserID: "u1", ChatID: "c1", Text: "/start"}

	require.NoError(t, f.bus.Publish(t.Context(), "c1", events.TriggerReceived{
		BaseEvent: events.NewBaseEvent(events.TriggerReceivedEvent, "p1", ""),
		Trigger:   event,
	}))
}

func (f *workerFixture) delivered() func() bool {
	return func() bool {
		messages := f.messenger.Messages()

		return len(messages) == 1 && messages[0].Text == "Hello"
	}
}

func TestWorkerManager_RunsTriggerInline(t *testing.T) {
	f := newWorkerFixture(t, 0)

	require.NoError(t, f.worker.Start(t.Context()))
	f.publishStart(t)

	assert.Eventually(t, f.delivered(), 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, f.queue.Len())
}

func TestWorkerManager_DefersHeavyRunsToQueue(t *testing.T) {
	f := newWorkerFixture(t, 1)

	require.NoError(t, f.worker.Start(t.Context()))
	f.publishStart(t)

	assert.Eventually(t, f.delivered(), 3*time.Second, 20*time.Millisecond)

	logs, err := f.store.ExecutionLogs(t.Context(), "p1", "", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, logs[0].Status)
}

func TestWorkerManager_IgnoresUnexpectedPayload(t *testing.T) {
	f := newWorkerFixture(t, 0)

	require.NoError(t, f.worker.handleTriggerReceived(t.Context(), "not an event"))
	assert.Empty(t, f.messenger.Messages())
}

func TestWorkerManager_StartFailsWhenSubscribeFails(t *testing.T) {
	f := newWorkerFixture(t, 0)

	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.TriggerReceivedEvent, mock.Anything).Return(nil)
	bus.On("Subscribe", mock.Anything).Return(errors.New("broker unreachable"))

	worker := NewWorkerManager("worker-test", bus, nil, f.queue, slog.Default())

	require.Error(t, worker.Start(t.Context()))
	bus.AssertExpectations(t)
}
