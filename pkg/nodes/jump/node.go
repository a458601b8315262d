// Package jump provides the flow.jump unconditional goto handler.
package jump

import (
	"context"
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return []string{models.NodeTypeJump}
}

func (h *Handler) CanHandle(nodeType string) bool {
	return nodeType == models.NodeTypeJump
}

// Execute returns the configured target; the executor checks that it exists.
func (h *Handler) Execute(_ context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	target, _ := node.TypedConfig()["targetNodeId"].(string)
	if target == "" {
		return "", fmt.Errorf("jump %q: missing required field 'targetNodeId'", node.ID)
	}

	execCtx.NodeLogger(node).Debug("Jumping", "target", target)

	return target, nil
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	if target, _ := node.TypedConfig()["targetNodeId"].(string); target == "" {
		return models.NewNodeValidation("targetNodeId is required")
	}

	return models.NewNodeValidation()
}

func (h *Handler) Schema(string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"targetNodeId"},
		"properties": map[string]any{
			"targetNodeId": map[string]any{"type": "string", "minLength": 1},
		},
	}
}
