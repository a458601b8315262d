package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/chatflow/pkg/apiclient"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/ratelimit"
	"github.com/dukex/chatflow/pkg/template"
	"github.com/dukex/chatflow/pkg/variables"
)

// HTTPExecutor performs outbound API calls.
type HTTPExecutor interface {
	Execute(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// RateLimiter answers whether a throttled resource may be used.
type RateLimiter interface {
	Allow(ctx context.Context, limitType ratelimit.LimitType, identifier string) bool
}

// OutboundMessage is a chat message produced by a message node.
type OutboundMessage struct {
	ProjectID   string            `json:"project_id"`
	WorkflowID  string            `json:"workflow_id"`
	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	ChatID      string            `json:"chat_id"`
	UserID      string            `json:"user_id,omitempty"`
	Text        string            `json:"text"`
	Buttons     [][]models.Button `json:"buttons,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// Messenger delivers outbound chat messages to the transport adapter.
type Messenger interface {
	Send(ctx context.Context, message OutboundMessage) error
}

// Services are the external collaborators available to handlers. Any of them may be nil.
type Services struct {
	Users     persistence.UserDirectory
	HTTP      HTTPExecutor
	Messenger Messenger
	Limiter   RateLimiter
}

// ExecutionContext is the state owned by one run. It is never shared between runs.
type ExecutionContext struct {
	ProjectID   string
	WorkflowID  string
	ExecutionID string
	UserID      string
	SessionID   string
	ChatID      string

	Trigger   models.TriggerEvent
	Variables *variables.Manager
	Logger    *slog.Logger
	Services  Services
}

// Render interpolates placeholders in s against the run's variables.
func (c *ExecutionContext) Render(s string) string {
	if c.Variables == nil {
		return template.Interpolate(s, nil)
	}

	return template.Interpolate(s, c.Variables)
}

// Resolve renders s keeping the value type where possible.
func (c *ExecutionContext) Resolve(s string) any {
	if c.Variables == nil {
		return template.Resolve(s, nil)
	}

	return template.Resolve(s, c.Variables)
}

// NodeLogger returns the run logger annotated with the node.
func (c *ExecutionContext) NodeLogger(node *models.WorkflowNode) *slog.Logger {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return logger.With("node_id", node.ID, "node_type", node.Type)
}
