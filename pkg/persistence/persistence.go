// Package persistence provides the data storage abstraction consumed by the workflow engine.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/chatflow/pkg/models"
)

// GraphRepository loads authored workflows.
type GraphRepository interface {
	WorkflowByID(ctx context.Context, projectID, workflowID string) (*models.Workflow, error)
	ActiveWorkflows(ctx context.Context, projectID string) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	ProjectIDs(ctx context.Context) ([]string, error)
}

// VariableStore is the persistent backing store of the variable manager.
// scopeID is the session id, the user id, or empty for the global scope.
type VariableStore interface {
	FindVariable(ctx context.Context, projectID string, scope models.VariableScope, scopeID, key string) (*models.Variable, error)
	InsertVariable(ctx context.Context, variable *models.Variable) error
	UpdateVariable(ctx context.Context, variable *models.Variable) error
	DeleteVariable(ctx context.Context, projectID string, scope models.VariableScope, scopeID, key string) error
	ListVariables(ctx context.Context, projectID string, scope models.VariableScope, scopeID string) ([]*models.Variable, error)
	DeleteExpiredVariables(ctx context.Context, projectID string, now time.Time) (int64, error)
}

// UserDirectory answers read-only questions about end users for built-in handlers.
type UserDirectory interface {
	IsUserLinked(ctx context.Context, projectID, userID string) (bool, error)
	Balance(ctx context.Context, projectID, userID string) (float64, error)
}

// ExecutionStateRepository keeps suspended runs until the next inbound event resumes them.
type ExecutionStateRepository interface {
	SaveExecutionState(ctx context.Context, state *models.ExecutionState) error
	ExecutionStateFor(ctx context.Context, projectID, workflowID, sessionID string) (*models.ExecutionState, error)
	DeleteExecutionState(ctx context.Context, executionID string) error
}

// ExecutionLogRepository records the outcome of each run.
type ExecutionLogRepository interface {
	SaveExecutionLog(ctx context.Context, log *models.ExecutionLog) error
	ExecutionLogs(ctx context.Context, projectID, workflowID string, limit int) ([]*models.ExecutionLog, error)
}

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	GraphRepository() GraphRepository
	VariableStore() VariableStore
	UserDirectory() UserDirectory
	ExecutionStateRepository() ExecutionStateRepository
	ExecutionLogRepository() ExecutionLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
