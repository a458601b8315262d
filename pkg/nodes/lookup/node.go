// Package lookup provides read-only user directory handlers: account linking and balance.
package lookup

import (
	"context"
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

const (
	DefaultLinkedVariable  = "user.linked"
	DefaultBalanceVariable = "user.balance"
)

// Handler answers action.check_user_linked and action.get_balance. A missing user or a
// failed lookup yields false or 0, never an error.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return []string{models.NodeTypeCheckUserLinked, models.NodeTypeGetBalance}
}

func (h *Handler) CanHandle(nodeType string) bool {
	return nodeType == models.NodeTypeCheckUserLinked || nodeType == models.NodeTypeGetBalance
}

func (h *Handler) Execute(ctx context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	cfg := node.TypedConfig()
	logger := execCtx.NodeLogger(node)

	variable, _ := cfg["saveToVariable"].(string)
	scopeName, _ := cfg["saveScope"].(string)

	var value any

	switch node.Type {
	case models.NodeTypeCheckUserLinked:
		if variable == "" {
			variable = DefaultLinkedVariable
		}

		linked := false

		if users := execCtx.Services.Users; users != nil && execCtx.UserID != "" {
			var err error

			linked, err = users.IsUserLinked(ctx, execCtx.ProjectID, execCtx.UserID)
			if err != nil {
				logger.Debug("User link lookup failed, treating as not linked", "user_id", execCtx.UserID, "error", err)

				linked = false
			}
		}

		value = linked
	case models.NodeTypeGetBalance:
		if variable == "" {
			variable = DefaultBalanceVariable
		}

		balance := 0.0

		if users := execCtx.Services.Users; users != nil && execCtx.UserID != "" {
			var err error

			balance, err = users.Balance(ctx, execCtx.ProjectID, execCtx.UserID)
			if err != nil {
				logger.Debug("Balance lookup failed, treating as zero", "user_id", execCtx.UserID, "error", err)

				balance = 0
			}
		}

		value = balance
	default:
		return "", fmt.Errorf("lookup %q: unsupported node type %q", node.ID, node.Type)
	}

	if execCtx.Variables != nil {
		if err := execCtx.Variables.Set(ctx, variable, value, models.ParseScope(scopeName), 0); err != nil {
			return "", fmt.Errorf("lookup %q: failed to save %s: %w", node.ID, variable, err)
		}
	}

	return protocol.DirectiveNext, nil
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	if scope, ok := node.TypedConfig()["saveScope"].(string); ok && !models.VariableScope(scope).Valid() {
		return models.NewNodeValidation(fmt.Sprintf("saveScope %q must be one of session, user, global", scope))
	}

	return models.NewNodeValidation()
}
