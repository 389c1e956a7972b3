package chat

import (
	"strconv"
	"strings"
)

// SupplierLocal is the supplier name for the local-model backend. Its wire
// protocol reports nanosecond durations and a boolean done terminal flag;
// every other supplier speaks the OpenAI-compatible shape.
const SupplierLocal = "ollama"

// ModelSelector identifies the backend a turn is dispatched to: a supplier
// name, a model identifier and the parameter-count token ("7b", "3b", ...).
type ModelSelector struct {
	Supplier   string
	Model      string
	Parameters string
}

// IsLocal reports whether the selector routes to the local-model backend.
func (s ModelSelector) IsLocal() bool {
	return s.Supplier == "" || s.Supplier == SupplierLocal
}

// Key returns the composite key used for context-length lookup. The local
// supplier joins model and parameters with a colon; remote suppliers use the
// bare model identifier.
func (s ModelSelector) Key() string {
	if s.IsLocal() && s.Parameters != "" {
		return s.Model + ":" + s.Parameters
	}
	return s.Model
}

// ParameterCount parses the parameter token ("3b", "14b") into billions.
// Unparseable tokens report 4, matching the default small-model assumption.
func (s ModelSelector) ParameterCount() float64 {
	token := strings.TrimSuffix(strings.ToLower(s.Parameters), "b")
	if token == "" {
		return 4
	}
	n, err := strconv.ParseFloat(token, 64)
	if err != nil || n <= 0 {
		return 4
	}
	return n
}
