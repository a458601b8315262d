// Package queue provides the asynchronous job queue that defers heavy workflow runs
// to a worker pool with retry and exponential backoff.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type JobType string

const JobTypeWorkflowExecution JobType = "workflow_execution"

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
)

// ErrInvalidJob is returned when a job payload does not satisfy its schema.
var ErrInvalidJob = errors.New("invalid job")

// Payload is what the orchestrator hands to the worker that re-runs it.
type Payload struct {
	Type        JobType             `json:"type"                  validate:"required"`
	ProjectID   string              `json:"projectId"             validate:"required"`
	ExecutionID string              `json:"executionId,omitempty"`
	UserID      string              `json:"userId,omitempty"`
	Context     map[string]any      `json:"context"`
	Trigger     models.TriggerEvent `json:"trigger"`
	Timestamp   time.Time           `json:"timestamp"             validate:"required"`
}

type Job struct {
	ID          string    `json:"id"           validate:"required"`
	Type        JobType   `json:"type"         validate:"required"`
	Payload     Payload   `json:"payload"`
	Attempts    int       `json:"attempts"     validate:"gte=0"`
	MaxAttempts int       `json:"max_attempts" validate:"gte=1"`
	Priority    Priority  `json:"priority"     validate:"gte=0,lte=2"`
	CreatedAt   time.Time `json:"created_at"`
	RunAt       time.Time `json:"run_at"`
	LastError   string    `json:"last_error,omitempty"`
	FailedAt    time.Time `json:"failed_at,omitzero"`
}

// Exhausted reports whether no attempt is left.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// Handler processes one job. A returned error schedules a retry until attempts run out.
type Handler func(ctx context.Context, job *Job) error

// Queue is a job queue. Enqueue reports false when the job was not accepted, which
// callers treat as a normal outcome.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) (bool, error)
	Start(ctx context.Context, handler Handler) error
	Failed(ctx context.Context, limit int) ([]*Job, error)
	Available() bool
	Close() error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewJob builds a job with the default retry policy.
func NewJob(payload Payload, priority Priority) *Job {
	now := time.Now().UTC()

	if payload.Timestamp.IsZero() {
		payload.Timestamp = now
	}

	return &Job{
		ID:          uuid.New().String(),
		Type:        payload.Type,
		Payload:     payload,
		MaxAttempts: DefaultMaxAttempts,
		Priority:    priority,
		CreatedAt:   now,
		RunAt:       now,
	}
}

// Validate checks the job and its payload schema.
func Validate(job *Job) error {
	if job == nil {
		return ErrInvalidJob
	}

	if err := validate.Struct(job); err != nil {
		return errors.Join(ErrInvalidJob, err)
	}

	return nil
}

// Backoff returns the delay before the retry that follows the given attempt: base,
// then doubling with every further attempt.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	return base << (attempts - 1)
}
