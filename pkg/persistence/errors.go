package persistence

import (
	"errors"
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVariableNotFound indicates no variable row exists for project, scope and key.
	ErrVariableNotFound = errors.New("variable not found")

	// ErrExecutionStateNotFound indicates no suspended run exists for the session.
	ErrExecutionStateNotFound = errors.New("execution state not found")

	// ErrUserNotFound indicates the user directory has no record of the user.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnavailable indicates the backing store is not configured or not reachable.
	ErrUnavailable = errors.New("store unavailable")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "WorkflowByID", "Save")
	ProjectID  string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s/%s: %v", e.Op, e.ProjectID, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, projectID, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		ProjectID:  projectID,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// VariableError wraps variable-related errors with additional context.
type VariableError struct {
	Op    string
	Scope models.VariableScope
	Key   string
	Err   error
}

func (e *VariableError) Error() string {
	return fmt.Sprintf("%s operation failed for %s variable %q: %v", e.Op, e.Scope, e.Key, e.Err)
}

func (e *VariableError) Unwrap() error {
	return e.Err
}

func (e *VariableError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewVariableError creates a new variable error with context.
func NewVariableError(op string, scope models.VariableScope, key string, err error) *VariableError {
	return &VariableError{
		Op:    op,
		Scope: scope,
		Key:   key,
		Err:   err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsVariableNotFound checks if an error indicates a variable was not found.
func IsVariableNotFound(err error) bool {
	return errors.Is(err, ErrVariableNotFound)
}

// IsExecutionStateNotFound checks if an error indicates no suspended run exists.
func IsExecutionStateNotFound(err error) bool {
	return errors.Is(err, ErrExecutionStateNotFound)
}

// IsUnavailable checks if an error indicates the store is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
