// Package template resolves variable placeholders in node configuration.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
)

// Lookup is the synchronous variable read used during rendering.
type Lookup interface {
	GetSync(key string, scope models.VariableScope) (any, bool)
}

// placeholder matches {{key}} and {{scope:key}}; keys may contain dots.
var placeholder = regexp.MustCompile(`\{\{\s*(?:(session|user|global)\s*:\s*)?([A-Za-z0-9_][A-Za-z0-9_.\-]*)\s*\}\}`)

// unscopedOrder is the lookup order of placeholders without an explicit scope.
var unscopedOrder = []models.VariableScope{models.ScopeSession, models.ScopeUser, models.ScopeGlobal}

// NeedsTemplating reports whether input contains at least one placeholder.
func NeedsTemplating(input string) bool {
	return placeholder.MatchString(input)
}

// Interpolate replaces every placeholder with the string form of its value.
// Unknown placeholders render as the empty string.
func Interpolate(input string, lookup Lookup) string {
	if lookup == nil || !strings.Contains(input, "{{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		value, _ := resolve(placeholder.FindStringSubmatch(match), lookup)

		return models.Stringify(value)
	})
}

// Resolve renders input keeping the value type where possible: a string that is
// exactly one placeholder yields the raw variable value; otherwise the interpolated
// text is returned as JSON, number, boolean or string, in that order of preference.
func Resolve(input string, lookup Lookup) any {
	trimmed := strings.TrimSpace(input)

	if loc := placeholder.FindStringSubmatchIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		value, ok := resolve(placeholder.FindStringSubmatch(trimmed), lookup)
		if !ok {
			return ""
		}

		return value
	}

	return Coerce(Interpolate(input, lookup))
}

// Coerce parses rendered text into a typed value.
func Coerce(text string) any {
	result := strings.TrimSpace(text)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b
	}

	return text
}

// RenderMap interpolates every string value of a configuration map, recursively.
func RenderMap(input map[string]any, lookup Lookup) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = renderValue(v, lookup)
	}

	return out
}

func renderValue(value any, lookup Lookup) any {
	switch v := value.(type) {
	case string:
		return Interpolate(v, lookup)
	case map[string]any:
		return RenderMap(v, lookup)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = renderValue(item, lookup)
		}

		return out
	default:
		return value
	}
}

func resolve(groups []string, lookup Lookup) (any, bool) {
	if lookup == nil || len(groups) < 3 {
		return nil, false
	}

	key := groups[2]

	if groups[1] != "" {
		return lookup.GetSync(key, models.VariableScope(groups[1]))
	}

	for _, scope := range unscopedOrder {
		if value, ok := lookup.GetSync(key, scope); ok {
			return value, true
		}
	}

	return nil, false
}
