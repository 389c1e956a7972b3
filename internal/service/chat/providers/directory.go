// Package providers wires the concrete backend adapters and resolves which
// one serves a turn.
package providers

import (
	"fmt"
	"log/slog"
	"sort"

	"tidepool/internal/capabilities"
	"tidepool/internal/config"
	"tidepool/internal/domain"
	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
	"tidepool/internal/service/chat/providers/ollama"
	"tidepool/internal/service/chat/providers/openaicompat"
)

// Directory holds one adapter per configured supplier plus the local
// backend. Tool-augmented adapters exist only for OpenAI-compatible
// suppliers; tool routing on a local selector falls back to the first
// configured compat supplier.
type Directory struct {
	local         chatSvc.Provider
	compat        map[string]chatSvc.Provider
	tools         map[string]chatSvc.Provider
	defaultCompat string
}

// NewDirectory builds adapters for every supplier in the configuration.
// sessions may be nil, which disables the tool-augmented path.
func NewDirectory(cfg *config.Config, caps *capabilities.Registry, sessions chatSvc.ToolSessionFactory, logger *slog.Logger) *Directory {
	d := &Directory{
		local:  ollama.NewAdapter(cfg.OllamaBaseURL, caps, logger),
		compat: make(map[string]chatSvc.Provider, len(cfg.Suppliers)),
		tools:  make(map[string]chatSvc.Provider, len(cfg.Suppliers)),
	}

	names := make([]string, 0, len(cfg.Suppliers))
	for name := range cfg.Suppliers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ep := cfg.Suppliers[name]
		d.compat[name] = openaicompat.NewAdapter(name, ep.BaseURL, ep.APIKey, caps, logger)
		if sessions != nil {
			d.tools[name] = openaicompat.NewToolAdapter(name, ep.BaseURL, ep.APIKey, caps, sessions, logger)
		}
		if d.defaultCompat == "" {
			d.defaultCompat = name
		}
	}
	return d
}

// Local returns the local-model adapter.
func (d *Directory) Local() chatSvc.Provider { return d.local }

// Compat returns the adapter for a named OpenAI-compatible supplier.
func (d *Directory) Compat(supplier string) (chatSvc.Provider, error) {
	p, ok := d.compat[supplier]
	if !ok {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown supplier %q", supplier)}
	}
	return p, nil
}

// Tool returns the tool-augmented adapter for a supplier. A local or empty
// supplier routes to the default compat supplier, since the local backend
// never serves tool turns.
func (d *Directory) Tool(supplier string) (chatSvc.Provider, error) {
	if supplier == "" || supplier == chatModels.SupplierLocal {
		supplier = d.defaultCompat
	}
	p, ok := d.tools[supplier]
	if !ok {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("no tool-capable supplier %q configured", supplier)}
	}
	return p, nil
}
