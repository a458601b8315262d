package queue_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() queue.Payload {
	return queue.Payload{
		Type:      queue.JobTypeWorkflowExecution,
		ProjectID: "p1",
		UserID:    "u1",
		Context:   map[string]any{"workflowId": "w1", "nodeId": "start"},
		Trigger:   models.TriggerEvent{ProjectID: "p1", Kind: models.TriggerKindStart, UserID: "u1"},
	}
}

func testConfig() config.QueueConfig {
	return config.QueueConfig{
		Concurrency:  2,
		MaxAttempts:  3,
		Backoff:      5 * time.Millisecond,
		FailedLimit:  2,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, queue.Backoff(queue.DefaultBackoff, 1))
	assert.Equal(t, 4*time.Second, queue.Backoff(queue.DefaultBackoff, 2))
	assert.Equal(t, 8*time.Second, queue.Backoff(queue.DefaultBackoff, 3))
	assert.Equal(t, 2*time.Second, queue.Backoff(queue.DefaultBackoff, 0))
}

func TestNewJob(t *testing.T) {
	job := queue.NewJob(testPayload(), queue.PriorityHigh)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, queue.JobTypeWorkflowExecution, job.Type)
	assert.Equal(t, queue.DefaultMaxAttempts, job.MaxAttempts)
	assert.Zero(t, job.Attempts)
	assert.False(t, job.Payload.Timestamp.IsZero())
	require.NoError(t, queue.Validate(job))
}

func TestValidate_RejectsIncompletePayload(t *testing.T) {
	payload := testPayload()
	payload.ProjectID = ""

	err := queue.Validate(queue.NewJob(payload, queue.PriorityNormal))
	require.ErrorIs(t, err, queue.ErrInvalidJob)

	require.ErrorIs(t, queue.Validate(nil), queue.ErrInvalidJob)
}

func TestNoopQueue(t *testing.T) {
	q := queue.NewNoopQueue(slog.Default())

	ok, err := q.Enqueue(t.Context(), queue.NewJob(testPayload(), queue.PriorityNormal))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, q.Available())

	failed, err := q.Failed(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestNew_WithoutClientIsNoop(t *testing.T) {
	q := queue.New(t.Context(), nil, testConfig(), slog.Default())

	assert.IsType(t, &queue.NoopQueue{}, q)
}
