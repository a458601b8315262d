package models

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

// VariableScope is an isolation boundary for variables. Scopes are not a hierarchy:
// the same key in two scopes names two independent variables.
type VariableScope string

const (
	ScopeSession VariableScope = "session"
	ScopeUser    VariableScope = "user"
	ScopeGlobal  VariableScope = "global"
)

// Valid reports whether s is a known scope.
func (s VariableScope) Valid() bool {
	switch s {
	case ScopeSession, ScopeUser, ScopeGlobal:
		return true
	default:
		return false
	}
}

// ParseScope converts a configuration string into a scope, defaulting to session.
func ParseScope(value string) VariableScope {
	scope := VariableScope(value)
	if scope.Valid() {
		return scope
	}

	return ScopeSession
}

// Variable is a named value stored for a project within one scope.
type Variable struct {
	ProjectID string        `json:"project_id"           validate:"required"`
	Scope     VariableScope `json:"scope"                validate:"required,oneof=session user global"`
	ScopeID   string        `json:"scope_id"`
	Key       string        `json:"key"                  validate:"required"`
	Value     any           `json:"value"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Expired reports whether the variable's expiry is at or before now.
func (v *Variable) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && !v.ExpiresAt.After(now)
}

// maxSafeInteger is the largest integer a JSON number can carry without loss in
// consumers that decode numbers as float64.
const maxSafeInteger = 1<<53 - 1

// NormalizeValue coerces values that cannot survive a JSON round trip exactly
// (arbitrary precision and out-of-range 64-bit integers) to their decimal string form.
func NormalizeValue(value any) any {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil
		}

		return v.String()
	case big.Int:
		return v.String()
	case *big.Float:
		if v == nil {
			return nil
		}

		return v.Text('f', -1)
	case *big.Rat:
		if v == nil {
			return nil
		}

		return v.RatString()
	case int64:
		if v > maxSafeInteger || v < -maxSafeInteger {
			return strconv.FormatInt(v, 10)
		}
	case uint64:
		if v > maxSafeInteger {
			return strconv.FormatUint(v, 10)
		}
	case int:
		if int64(v) > maxSafeInteger || int64(v) < -maxSafeInteger {
			return strconv.Itoa(v)
		}
	case uint:
		if uint64(v) > maxSafeInteger {
			return strconv.FormatUint(uint64(v), 10)
		}
	case json.Number:
		return v.String()
	}

	return value
}

// ToFloat converts a value into a float64 for numeric comparisons.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}

		return f, true
	case bool:
		if v {
			return 1, true
		}

		return 0, true
	default:
		return 0, false
	}
}

// Stringify renders a value the way it is substituted into templates.
func Stringify(value any) string {
	return stringify(value)
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
