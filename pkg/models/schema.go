package models

// SchemaProvider is implemented by handlers that describe node configuration with a JSON schema.
// The schema applies to the node's typed configuration; nil means no schema.
type SchemaProvider interface {
	Schema(nodeType string) map[string]any
}

// NodeValidation is the result of validating one node's configuration.
type NodeValidation struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// NewNodeValidation builds a validation result from a list of error messages.
func NewNodeValidation(errs ...string) NodeValidation {
	return NodeValidation{
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}
