// Package switchnode provides the flow.switch multi-way goto handler.
package switchnode

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/nodes/conditional"
	"github.com/dukex/chatflow/pkg/protocol"
)

// Handler renders the switch value and jumps to the first case whose value matches.
// Without a match it jumps to defaultGotoNode, or follows the default connection.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return []string{models.NodeTypeSwitch}
}

func (h *Handler) CanHandle(nodeType string) bool {
	return nodeType == models.NodeTypeSwitch
}

func (h *Handler) Execute(_ context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	cfg := node.TypedConfig()

	expression, ok := cfg["value"]
	if !ok || expression == nil {
		return "", fmt.Errorf("switch %q: missing required field 'value'", node.ID)
	}

	value := strings.TrimSpace(execCtx.Render(models.Stringify(expression)))
	logger := execCtx.NodeLogger(node)

	for _, c := range models.SwitchCases(cfg) {
		matched, _ := conditional.Evaluate(conditional.Equals, value, execCtx.Render(c.Value))
		if !matched {
			continue
		}

		logger.Debug("Switch case matched", "value", value, "goto", c.GotoNode)

		if c.GotoNode == "" {
			return protocol.DirectiveNext, nil
		}

		return c.GotoNode, nil
	}

	if target, _ := cfg["defaultGotoNode"].(string); target != "" {
		logger.Debug("Switch fell through to default", "value", value, "goto", target)

		return target, nil
	}

	return protocol.DirectiveNext, nil
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	cfg := node.TypedConfig()

	var errs []string

	if models.Stringify(cfg["value"]) == "" {
		errs = append(errs, "value is required")
	}

	cases := models.SwitchCases(cfg)
	if len(cases) == 0 {
		errs = append(errs, "at least one case is required")
	}

	for i, c := range cases {
		if c.GotoNode == "" {
			errs = append(errs, fmt.Sprintf("case %d (%q) has no gotoNode", i, c.Value))
		}
	}

	return models.NewNodeValidation(errs...)
}

func (h *Handler) Schema(string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"value", "cases"},
		"properties": map[string]any{
			"value": map[string]any{"type": "string"},
			"cases": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"value", "gotoNode"},
					"properties": map[string]any{
						"value":    map[string]any{},
						"gotoNode": map[string]any{"type": "string", "minLength": 1},
					},
				},
			},
			"defaultGotoNode": map[string]any{"type": "string"},
		},
	}
}
