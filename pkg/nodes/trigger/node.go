// Package trigger provides the entry point handlers that select where a run starts.
package trigger

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

const startCommand = "/start"

var triggerTypes = []string{
	models.NodeTypeTriggerStart,
	models.NodeTypeTriggerCommand,
	models.NodeTypeTriggerMessage,
	models.NodeTypeTriggerCallback,
	models.NodeTypeTriggerWebhook,
}

// Handler matches inbound events against trigger nodes. Executing a trigger only
// exposes its match details to the run and follows the default connection.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return triggerTypes
}

func (h *Handler) CanHandle(nodeType string) bool {
	return strings.HasPrefix(nodeType, models.NodeCategoryTrigger+".")
}

func (h *Handler) Matches(node *models.WorkflowNode, event models.TriggerEvent) bool {
	cfg := node.TypedConfig()

	switch node.Type {
	case models.NodeTypeTriggerStart:
		return event.Kind == models.TriggerKindStart ||
			(event.Kind == models.TriggerKindMessage && commandOf(event.Text) == startCommand)
	case models.NodeTypeTriggerCommand:
		if event.Kind != models.TriggerKindMessage && event.Kind != models.TriggerKindStart {
			return false
		}

		command := normalizeCommand(cfg)

		return command != "" && commandOf(event.Text) == command
	case models.NodeTypeTriggerMessage:
		if event.Kind != models.TriggerKindMessage || strings.HasPrefix(event.Text, "/") {
			return false
		}

		return matchText(cfg, event.Text)
	case models.NodeTypeTriggerCallback:
		if event.Kind != models.TriggerKindCallback {
			return false
		}

		if data, _ := cfg["callbackData"].(string); data != "" {
			return event.CallbackData == data
		}

		if prefix, _ := cfg["prefix"].(string); prefix != "" {
			return strings.HasPrefix(event.CallbackData, prefix)
		}

		return true
	case models.NodeTypeTriggerWebhook:
		if event.Kind != models.TriggerKindWebhook {
			return false
		}

		if name, _ := cfg["event"].(string); name != "" {
			got, _ := event.Payload["event"].(string)

			return got == name
		}

		return true
	default:
		return false
	}
}

func (h *Handler) Execute(_ context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	if node.Type == models.NodeTypeTriggerCommand && execCtx.Variables != nil {
		_, args, _ := strings.Cut(strings.TrimSpace(execCtx.Trigger.Text), " ")
		execCtx.Variables.UpdateCache("command.args", strings.TrimSpace(args), models.ScopeSession)
	}

	execCtx.NodeLogger(node).Debug("Trigger matched", "kind", execCtx.Trigger.Kind)

	return protocol.DirectiveNext, nil
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	cfg := node.TypedConfig()

	var errs []string

	switch node.Type {
	case models.NodeTypeTriggerCommand:
		if normalizeCommand(cfg) == "" {
			errs = append(errs, "command is required")
		}
	case models.NodeTypeTriggerMessage:
		if pattern, _ := cfg["pattern"].(string); pattern != "" {
			if _, err := regexp.Compile(pattern); err != nil {
				errs = append(errs, fmt.Sprintf("pattern is not a valid regular expression: %v", err))
			}
		}
	}

	return models.NewNodeValidation(errs...)
}

func (h *Handler) Schema(nodeType string) map[string]any {
	switch nodeType {
	case models.NodeTypeTriggerCommand:
		return map[string]any{
			"type":     "object",
			"required": []any{"command"},
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "minLength": 1},
			},
		}
	case models.NodeTypeTriggerMessage:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern":  map[string]any{"type": "string"},
				"contains": map[string]any{"type": "string"},
			},
		}
	default:
		return nil
	}
}

func normalizeCommand(cfg map[string]any) string {
	command, _ := cfg["command"].(string)
	command = strings.ToLower(strings.TrimSpace(command))

	if command == "" {
		return ""
	}

	if !strings.HasPrefix(command, "/") {
		command = "/" + command
	}

	return command
}

// commandOf returns the lowercased command of a message, without a @bot suffix.
func commandOf(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}

	command, _, _ := strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")

	return strings.ToLower(command)
}

func matchText(cfg map[string]any, text string) bool {
	if pattern, _ := cfg["pattern"].(string); pattern != "" {
		re, err := regexp.Compile(pattern)

		return err == nil && re.MatchString(text)
	}

	if contains, _ := cfg["contains"].(string); contains != "" {
		return strings.Contains(strings.ToLower(text), strings.ToLower(contains))
	}

	return true
}
