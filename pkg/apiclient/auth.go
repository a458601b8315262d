package apiclient

import (
	"encoding/base64"
	"fmt"
)

// AuthType selects how credentials are attached to a request.
type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
	AuthCustom AuthType = "custom"
)

const defaultAPIKeyHeader = "X-API-Key"

// Auth holds the credentials of one strategy.
type Auth struct {
	Type     AuthType          `json:"type"               validate:"required,oneof=bearer basic api_key custom"`
	Token    string            `json:"token,omitempty"    validate:"required_if=Type bearer"`
	Username string            `json:"username,omitempty" validate:"required_if=Type basic"`
	Password string            `json:"password,omitempty"`
	Key      string            `json:"key,omitempty"`
	Value    string            `json:"value,omitempty"    validate:"required_if=Type api_key"`
	InQuery  bool              `json:"in_query,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"  validate:"required_if=Type custom"`
}

// apply merges the credentials into headers and query.
func (a *Auth) apply(headers, query map[string]string) error {
	if a == nil {
		return nil
	}

	switch a.Type {
	case AuthBearer:
		headers["Authorization"] = "Bearer " + a.Token
	case AuthBasic:
		credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		headers["Authorization"] = "Basic " + credentials
	case AuthAPIKey:
		key := a.Key
		if key == "" {
			key = defaultAPIKeyHeader
		}

		if a.InQuery {
			query[key] = a.Value
		} else {
			headers[key] = a.Value
		}
	case AuthCustom:
		for name, value := range a.Headers {
			headers[name] = value
		}
	default:
		return fmt.Errorf("unsupported auth type %q", a.Type)
	}

	return nil
}
