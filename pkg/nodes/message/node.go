// Package message provides the outbound chat message handlers, including the
// inline keyboard and free-text input nodes that wait for the user's reply.
package message

import (
	"context"
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/ratelimit"
)

const DefaultInputVariable = "input.text"

var messageTypes = []string{
	models.NodeTypeMessage,
	models.NodeTypeMessageText,
	models.NodeTypeKeyboardInline,
	models.NodeTypeMessageInput,
}

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return messageTypes
}

func (h *Handler) CanHandle(nodeType string) bool {
	for _, t := range messageTypes {
		if t == nodeType {
			return true
		}
	}

	return false
}

func (h *Handler) Execute(ctx context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	cfg := node.TypedConfig()
	text, _ := cfg["text"].(string)

	if err := h.send(ctx, node, execCtx, execCtx.Render(text)); err != nil {
		return "", err
	}

	switch node.Type {
	case models.NodeTypeMessageInput:
		return protocol.DirectiveSuspend, nil
	case models.NodeTypeKeyboardInline:
		for _, button := range node.Buttons() {
			if button.URL == "" {
				return protocol.DirectiveSuspend, nil
			}
		}
	}

	return protocol.DirectiveNext, nil
}

// Resume continues a suspended keyboard or input node with the user's reply.
// Replies of the wrong kind keep the run suspended.
func (h *Handler) Resume(ctx context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext, event models.TriggerEvent) (string, error) {
	logger := execCtx.NodeLogger(node)

	switch node.Type {
	case models.NodeTypeKeyboardInline:
		if event.Kind != models.TriggerKindCallback {
			return protocol.DirectiveSuspend, nil
		}

		if execCtx.Variables != nil {
			execCtx.Variables.UpdateCache("callback_data", event.CallbackData, models.ScopeSession)
		}

		for _, button := range node.Buttons() {
			if !pressed(button, event.CallbackData) {
				continue
			}

			logger.Debug("Keyboard button pressed", "button", button.Text, "goto", button.Target())

			if target := button.Target(); target != "" {
				return target, nil
			}

			return protocol.DirectiveNext, nil
		}

		logger.Debug("Callback does not belong to this keyboard, still waiting", "callback_data", event.CallbackData)

		return protocol.DirectiveSuspend, nil
	case models.NodeTypeMessageInput:
		if event.Kind != models.TriggerKindMessage {
			return protocol.DirectiveSuspend, nil
		}

		variable, _ := node.TypedConfig()["saveToVariable"].(string)
		if variable == "" {
			variable = DefaultInputVariable
		}

		scopeName, _ := node.TypedConfig()["saveScope"].(string)

		if execCtx.Variables != nil {
			if err := execCtx.Variables.Set(ctx, variable, event.Text, models.ParseScope(scopeName), 0); err != nil {
				return "", fmt.Errorf("input %q: failed to save reply: %w", node.ID, err)
			}
		}

		return protocol.DirectiveNext, nil
	default:
		return protocol.DirectiveNext, nil
	}
}

func (h *Handler) send(ctx context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext, text string) error {
	logger := execCtx.NodeLogger(node)

	recipient := execCtx.UserID
	if recipient == "" {
		recipient = execCtx.ChatID
	}

	if limiter := execCtx.Services.Limiter; limiter != nil && recipient != "" {
		if !limiter.Allow(ctx, ratelimit.ChatMessage, recipient) {
			return fmt.Errorf("message %q: %w for %s", node.ID, ratelimit.ErrLimited, ratelimit.Key(ratelimit.ChatMessage, recipient))
		}
	}

	messenger := execCtx.Services.Messenger
	if messenger == nil {
		logger.Info("No messenger configured, message not delivered", "text", text)

		return nil
	}

	err := messenger.Send(ctx, protocol.OutboundMessage{
		ProjectID:   execCtx.ProjectID,
		WorkflowID:  execCtx.WorkflowID,
		ExecutionID: execCtx.ExecutionID,
		NodeID:      node.ID,
		ChatID:      execCtx.ChatID,
		UserID:      execCtx.UserID,
		Text:        text,
		Buttons:     renderButtons(node.ButtonRows(), execCtx),
	})
	if err != nil {
		return fmt.Errorf("message %q: failed to send: %w", node.ID, err)
	}

	return nil
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	cfg := node.TypedConfig()

	var errs []string

	if text, _ := cfg["text"].(string); text == "" {
		errs = append(errs, "text is required")
	}

	if node.Type == models.NodeTypeKeyboardInline {
		buttons := node.Buttons()
		if len(buttons) == 0 {
			errs = append(errs, "at least one button is required")
		}

		for i, button := range buttons {
			if button.Text == "" {
				errs = append(errs, fmt.Sprintf("button %d has no text", i))
			}

			if button.URL == "" && button.CallbackData == "" && button.GotoNode == "" {
				errs = append(errs, fmt.Sprintf("button %q needs url, callback_data or goto_node", button.Text))
			}
		}
	}

	return models.NewNodeValidation(errs...)
}

func (h *Handler) Schema(nodeType string) map[string]any {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"text"},
		"properties": map[string]any{
			"text": map[string]any{"type": "string", "minLength": 1},
		},
	}

	properties := schema["properties"].(map[string]any)

	switch nodeType {
	case models.NodeTypeKeyboardInline:
		schema["required"] = []any{"text", "buttons"}
		properties["buttons"] = map[string]any{"type": "array", "minItems": 1}
	case models.NodeTypeMessageInput:
		properties["saveToVariable"] = map[string]any{"type": "string"}
		properties["saveScope"] = map[string]any{"type": "string", "enum": []any{"session", "user", "global"}}
	}

	return schema
}

func pressed(button models.Button, callbackData string) bool {
	if callbackData == "" {
		return false
	}

	if button.CallbackData != "" && button.CallbackData == callbackData {
		return true
	}

	return button.GotoNode != "" && models.GotoTarget(callbackData) == button.GotoNode
}

// renderButtons interpolates button labels and gives goto_node buttons a goto: callback
// so the transport adapter can round-trip them.
func renderButtons(rows [][]models.Button, execCtx *protocol.ExecutionContext) [][]models.Button {
	if len(rows) == 0 {
		return nil
	}

	out := make([][]models.Button, 0, len(rows))

	for _, row := range rows {
		rendered := make([]models.Button, 0, len(row))

		for _, button := range row {
			button.Text = execCtx.Render(button.Text)
			if button.CallbackData == "" && button.GotoNode != "" {
				button.CallbackData = models.GotoCallbackPrefix + button.GotoNode
			}

			rendered = append(rendered, button)
		}

		out = append(out, rendered)
	}

	return out
}
