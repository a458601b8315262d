// Package httprequest provides the action.api_request handler.
package httprequest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/apiclient"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

var errNoHTTP = errors.New("outbound HTTP is not configured")

// Handler issues an outbound call and stores the response body in a variable.
// Non-2xx responses fail the node.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return []string{models.NodeTypeAPIRequest}
}

func (h *Handler) CanHandle(nodeType string) bool {
	return nodeType == models.NodeTypeAPIRequest
}

func (h *Handler) Execute(ctx context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	if execCtx.Services.HTTP == nil {
		return "", fmt.Errorf("api request %q: %w", node.ID, errNoHTTP)
	}

	req, err := buildRequest(node.TypedConfig(), execCtx)
	if err != nil {
		return "", fmt.Errorf("api request %q: %w", node.ID, err)
	}

	logger := execCtx.NodeLogger(node).With("method", req.Method, "url", req.URL)

	resp, err := execCtx.Services.HTTP.Execute(ctx, req)
	if err != nil {
		return "", fmt.Errorf("api request %q: %w", node.ID, err)
	}

	logger.Info("API request completed", "status", resp.StatusCode, "cached", resp.Cached, "duration", resp.Duration)

	cfg := node.TypedConfig()

	if name, _ := cfg["saveToVariable"].(string); name != "" && execCtx.Variables != nil {
		scopeName, _ := cfg["saveScope"].(string)
		scope := models.ParseScope(scopeName)

		if err := execCtx.Variables.Set(ctx, name, resp.Value(), scope, 0); err != nil {
			return "", fmt.Errorf("api request %q: failed to save response: %w", node.ID, err)
		}

		execCtx.Variables.UpdateCache(name+".status_code", resp.StatusCode, scope)
	}

	return protocol.DirectiveNext, nil
}

func buildRequest(cfg map[string]any, execCtx *protocol.ExecutionContext) (apiclient.Request, error) {
	rawURL, _ := cfg["url"].(string)
	if rawURL == "" {
		return apiclient.Request{}, errors.New("missing required field 'url'")
	}

	method, _ := cfg["method"].(string)

	req := apiclient.Request{
		Method:      strings.ToUpper(method),
		URL:         execCtx.Render(rawURL),
		Headers:     renderStrings(cfg["headers"], execCtx),
		Query:       renderStrings(cfg["query"], execCtx),
		RateLimitID: execCtx.ProjectID,
	}

	switch body := cfg["body"].(type) {
	case string:
		req.Body = execCtx.Render(body)
	case map[string]any, []any:
		req.Body = renderAny(body, execCtx)
	}

	if timeout, ok := models.ToFloat(cfg["timeout"]); ok && timeout > 0 {
		req.Timeout = time.Duration(timeout * float64(time.Second))
	}

	if retries, ok := models.ToFloat(cfg["retries"]); ok && retries > 0 {
		req.Retries = int(retries)
	}

	if auth, ok := cfg["auth"].(map[string]any); ok {
		req.Auth = parseAuth(auth, execCtx)
	}

	return req, nil
}

func parseAuth(cfg map[string]any, execCtx *protocol.ExecutionContext) *apiclient.Auth {
	str := func(key string) string {
		value, _ := cfg[key].(string)

		return execCtx.Render(value)
	}

	inQuery, _ := cfg["in_query"].(bool)

	return &apiclient.Auth{
		Type:     apiclient.AuthType(str("type")),
		Token:    str("token"),
		Username: str("username"),
		Password: str("password"),
		Key:      str("key"),
		Value:    str("value"),
		InQuery:  inQuery,
		Headers:  renderStrings(cfg["headers"], execCtx),
	}
}

func renderStrings(raw any, execCtx *protocol.ExecutionContext) map[string]string {
	values, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = execCtx.Render(models.Stringify(v))
	}

	return out
}

func renderAny(value any, execCtx *protocol.ExecutionContext) any {
	switch v := value.(type) {
	case string:
		return execCtx.Render(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = renderAny(item, execCtx)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = renderAny(item, execCtx)
		}

		return out
	default:
		return value
	}
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	cfg := node.TypedConfig()

	var errs []string

	if url, _ := cfg["url"].(string); url == "" {
		errs = append(errs, "url is required")
	}

	if method, _ := cfg["method"].(string); method != "" {
		switch strings.ToUpper(method) {
		case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		default:
			errs = append(errs, fmt.Sprintf("method %q is not supported", method))
		}
	}

	return models.NewNodeValidation(errs...)
}

func (h *Handler) Schema(string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url":            map[string]any{"type": "string", "minLength": 1},
			"method":         map[string]any{"type": "string"},
			"headers":        map[string]any{"type": "object"},
			"query":          map[string]any{"type": "object"},
			"body":           map[string]any{"type": []any{"string", "object", "array"}},
			"timeout":        map[string]any{"type": "number", "minimum": 0},
			"retries":        map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
			"saveToVariable": map[string]any{"type": "string"},
			"saveScope":      map[string]any{"type": "string", "enum": []any{"session", "user", "global"}},
			"auth": map[string]any{
				"type":     "object",
				"required": []any{"type"},
				"properties": map[string]any{
					"type": map[string]any{"type": "string", "enum": []any{"bearer", "basic", "api_key", "custom"}},
				},
			},
		},
	}
}
