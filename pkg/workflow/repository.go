package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Repository is the workflow-facing view over a persistence backend.
type Repository struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	now         func() time.Time
}

func NewRepository(p persistence.Persistence) *Repository {
	return &Repository{
		persistence: p,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (r *Repository) FetchByID(ctx context.Context, projectID, workflowID string) (*models.Workflow, error) {
	workflow, err := r.persistence.GraphRepository().WorkflowByID(ctx, projectID, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("FetchByID", projectID, workflowID, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// FetchForEvent returns the workflows an inbound event may start or resume: the named
// workflow when the event carries one, otherwise every active workflow of the project.
func (r *Repository) FetchForEvent(ctx context.Context, event models.TriggerEvent) ([]*models.Workflow, error) {
	if event.WorkflowID != "" {
		workflow, err := r.FetchByID(ctx, event.ProjectID, event.WorkflowID)
		if err != nil {
			return nil, err
		}

		if !workflow.Active {
			return []*models.Workflow{}, nil
		}

		return []*models.Workflow{workflow}, nil
	}

	workflows, err := r.persistence.GraphRepository().ActiveWorkflows(ctx, event.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active workflows of project %s: %w", event.ProjectID, err)
	}

	return workflows, nil
}

// Save creates or replaces a workflow, keeping the creation time of an existing one.
func (r *Repository) Save(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if err := r.validate.Struct(workflow); err != nil {
		return nil, err
	}

	now := r.now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	existing, err := r.persistence.GraphRepository().WorkflowByID(ctx, workflow.ProjectID, workflow.ID)

	switch {
	case err == nil && existing != nil:
		workflow.CreatedAt = existing.CreatedAt
	case err != nil && !errors.Is(err, persistence.ErrWorkflowNotFound):
		return nil, err
	}

	if err := r.persistence.GraphRepository().SaveWorkflow(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}
