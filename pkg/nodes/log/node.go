// Package log provides the action.log handler, which writes a rendered message to the run log.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return []string{models.NodeTypeLog}
}

func (h *Handler) CanHandle(nodeType string) bool {
	return nodeType == models.NodeTypeLog
}

func (h *Handler) Execute(ctx context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	cfg := node.TypedConfig()

	message, ok := cfg["message"].(string)
	if !ok {
		return "", fmt.Errorf("log %q: missing required field 'message'", node.ID)
	}

	levelName, _ := cfg["level"].(string)

	level, ok := levels[levelName]
	if !ok {
		level = slog.LevelInfo
	}

	execCtx.NodeLogger(node).Log(ctx, level, execCtx.Render(message))

	return protocol.DirectiveNext, nil
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	cfg := node.TypedConfig()

	var errs []string

	if _, ok := cfg["message"].(string); !ok {
		errs = append(errs, "message is required")
	}

	if level, ok := cfg["level"].(string); ok {
		if _, known := levels[level]; !known {
			errs = append(errs, fmt.Sprintf("level %q must be one of debug, info, warn, error", level))
		}
	}

	return models.NewNodeValidation(errs...)
}
