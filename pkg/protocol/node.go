// Package protocol defines the interfaces and contracts for pluggable node handlers.
package protocol

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
)

// Directives returned by Execute besides a node id or a predicate outcome.
const (
	// DirectiveNext follows the node's default outgoing connection.
	DirectiveNext = ""

	// DirectiveTrue and DirectiveFalse follow the connection labeled with the outcome.
	DirectiveTrue  = "true"
	DirectiveFalse = "false"

	// DirectiveSuspend parks the run until the next inbound event of the session.
	DirectiveSuspend = "@suspend"

	// DirectiveEnd completes the run regardless of outgoing connections.
	DirectiveEnd = "@end"
)

// Handler implements the runtime behavior of one or more node types.
// Handlers hold no per-run state; everything a run owns lives in the ExecutionContext.
type Handler interface {
	// CanHandle reports whether the handler serves the node type.
	CanHandle(nodeType string) bool

	// Execute runs the node and returns a directive: a node id to jump to,
	// "true"/"false" for predicate nodes, or one of the Directive constants.
	Execute(ctx context.Context, node *models.WorkflowNode, execCtx *ExecutionContext) (string, error)

	// Validate checks the node configuration without running it.
	Validate(node *models.WorkflowNode) models.NodeValidation
}

// TypeLister is implemented by handlers that can enumerate the types they serve.
type TypeLister interface {
	Types() []string
}

// Resumer is implemented by handlers that suspend a run and continue it when
// the next inbound event arrives. The returned value is a directive, as for Execute.
type Resumer interface {
	Resume(ctx context.Context, node *models.WorkflowNode, execCtx *ExecutionContext, event models.TriggerEvent) (string, error)
}

// TriggerMatcher is implemented by trigger handlers to select entry points for an event.
type TriggerMatcher interface {
	Matches(node *models.WorkflowNode, event models.TriggerEvent) bool
}
