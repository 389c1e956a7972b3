package capabilities

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"tidepool/internal/domain/models/chat"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Registry answers model capability questions from the embedded family
// table. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	table table
}

// NewRegistry loads the embedded capability file.
func NewRegistry() (*Registry, error) {
	data, err := configFiles.ReadFile("config/models.yaml")
	if err != nil {
		return nil, fmt.Errorf("read capability file: %w", err)
	}

	r := &Registry{}
	if err := yaml.Unmarshal(data, &r.table); err != nil {
		return nil, fmt.Errorf("unmarshal capability file: %w", err)
	}
	if r.table.DefaultContextWindow == 0 {
		r.table.DefaultContextWindow = 4096
	}
	return r, nil
}

// families returns every family whose pattern matches the model identifier.
func (r *Registry) families(model string) []Family {
	lower := strings.ToLower(model)
	var matched []Family
	for _, f := range r.table.Families {
		for _, pattern := range f.Match {
			if strings.Contains(lower, pattern) {
				matched = append(matched, f)
				break
			}
		}
	}
	return matched
}

// IsVision reports native multimodal support for the supplier/model pair.
// Local models are non-vision unless a family says otherwise; remote models
// default to vision-capable unless a matching family is pinned text-only.
func (r *Registry) IsVision(supplier, model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.families(model)
	for _, f := range matched {
		if f.Vision {
			return true
		}
	}
	if supplier == chat.SupplierLocal || supplier == "" {
		return false
	}
	for _, f := range matched {
		if f.TextOnly {
			return false
		}
	}
	return true
}

// IsReasoning reports whether the model belongs to a reasoning-style family.
func (r *Registry) IsReasoning(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.families(model) {
		if f.Reasoning {
			return true
		}
	}
	return false
}

// InlineDocs reports whether document injection for the model uses in-line
// concatenation instead of fenced blocks.
func (r *Registry) InlineDocs(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.families(model) {
		if f.InlineDocs {
			return true
		}
	}
	return false
}

// LookupContextWindow returns the configured context length for a model key.
// The second result is false when the key has no table entry, so callers can
// apply their own fallback rule.
func (r *Registry) LookupContextWindow(key string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.table.ContextWindows[key]
	return n, ok
}

// ContextWindow returns the configured context length for a model key, or
// the default when the key is unknown.
func (r *Registry) ContextWindow(key string) int {
	if n, ok := r.LookupContextWindow(key); ok {
		return n
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.DefaultContextWindow
}
