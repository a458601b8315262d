package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGraph is returned when structural or node validation reports errors.
	ErrInvalidGraph = errors.New("invalid workflow graph")

	// ErrStepLimit is returned when a run executes more steps than allowed.
	ErrStepLimit = errors.New("step limit exceeded")

	// ErrTimeout is returned when a step or the whole run exceeds its deadline.
	ErrTimeout = errors.New("execution timeout")

	// ErrCancelled is returned when the caller abandons a run before it finishes.
	ErrCancelled = errors.New("execution cancelled")

	// ErrNodeNotFound is returned when the next node named by a connection or goto does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoEntryPoint is returned by Run when the requested start node does not exist.
	ErrNoEntryPoint = errors.New("no entry point")
)

// StepError wraps a failure of one node.
type StepError struct {
	NodeID   string
	NodeType string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.NodeType, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
