package capabilities

// Family holds the data-driven capability flags for one model family.
// Families are matched by substring patterns against the lowercased model
// identifier, replacing scattered name-sniffing checks with a table that can
// be tested in isolation.
type Family struct {
	// Name is a human-readable family label.
	Name string `yaml:"name"`

	// Match lists the identifier substrings that select this family.
	Match []string `yaml:"match"`

	// Vision marks native multimodal image support.
	Vision bool `yaml:"vision"`

	// Reasoning marks reasoning-style models that receive the fixed
	// temperature override on the local backend.
	Reasoning bool `yaml:"reasoning"`

	// InlineDocs marks families whose document injection uses in-line
	// concatenation instead of fenced blocks.
	InlineDocs bool `yaml:"inline_docs"`

	// TextOnly pins the family to non-vision on remote suppliers, where the
	// default assumption is vision-capable.
	TextOnly bool `yaml:"text_only"`
}

// table is the root of the embedded capability file.
type table struct {
	Families []Family `yaml:"families"`

	// ContextWindows maps a model key (local: "model:parameters", remote:
	// bare model id) to its context length in tokens.
	ContextWindows map[string]int `yaml:"context_windows"`

	// DefaultContextWindow applies when a key has no entry.
	DefaultContextWindow int `yaml:"default_context_window"`
}
