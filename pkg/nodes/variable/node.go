// Package variable provides the action.set_variable handler.
package variable

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// Handler stores a rendered value under key. With "delete": true it removes the key
// instead, and with "cacheOnly": true the value lives for the current run only.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return []string{models.NodeTypeSetVariable}
}

func (h *Handler) CanHandle(nodeType string) bool {
	return nodeType == models.NodeTypeSetVariable
}

func (h *Handler) Execute(ctx context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	if execCtx.Variables == nil {
		return "", fmt.Errorf("set variable %q: no variable manager", node.ID)
	}

	cfg := node.TypedConfig()

	key, _ := cfg["key"].(string)
	if key == "" {
		return "", fmt.Errorf("set variable %q: missing required field 'key'", node.ID)
	}

	key = execCtx.Render(key)
	scopeName, _ := cfg["scope"].(string)
	scope := models.ParseScope(scopeName)

	if remove, _ := cfg["delete"].(bool); remove {
		execCtx.Variables.Delete(ctx, key, scope)

		return protocol.DirectiveNext, nil
	}

	var value any

	switch raw := cfg["value"].(type) {
	case string:
		value = execCtx.Resolve(raw)
	default:
		value = raw
	}

	if cacheOnly, _ := cfg["cacheOnly"].(bool); cacheOnly {
		execCtx.Variables.UpdateCache(key, value, scope)

		return protocol.DirectiveNext, nil
	}

	var ttl time.Duration
	if seconds, ok := models.ToFloat(cfg["ttl"]); ok && seconds > 0 {
		ttl = time.Duration(seconds * float64(time.Second))
	}

	if err := execCtx.Variables.Set(ctx, key, value, scope, ttl); err != nil {
		return "", fmt.Errorf("set variable %q: %w", node.ID, err)
	}

	execCtx.NodeLogger(node).Debug("Variable set", "key", key, "scope", scope, "ttl", ttl)

	return protocol.DirectiveNext, nil
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	cfg := node.TypedConfig()

	var errs []string

	if key, _ := cfg["key"].(string); key == "" {
		errs = append(errs, "key is required")
	}

	if scope, ok := cfg["scope"].(string); ok && !models.VariableScope(scope).Valid() {
		errs = append(errs, fmt.Sprintf("scope %q must be one of session, user, global", scope))
	}

	return models.NewNodeValidation(errs...)
}

func (h *Handler) Schema(string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"key"},
		"properties": map[string]any{
			"key":       map[string]any{"type": "string", "minLength": 1},
			"value":     map[string]any{},
			"scope":     map[string]any{"type": "string", "enum": []any{"session", "user", "global"}},
			"ttl":       map[string]any{"type": "number", "minimum": 0},
			"delete":    map[string]any{"type": "boolean"},
			"cacheOnly": map[string]any{"type": "boolean"},
		},
	}
}
