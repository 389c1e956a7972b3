// Package i18n provides the localized user-facing strings the chat core
// emits: the cancellation notice appended to a stopped stream and the
// pre-stream error messages returned in place of a stream.
package i18n

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFiles embed.FS

// DefaultLanguage is used when the configured language has no catalog.
const DefaultLanguage = "en"

// Catalog holds the message tables for every bundled language.
type Catalog struct {
	language string
	messages map[string]map[string]string
}

// NewCatalog loads the embedded locale files and selects a language.
func NewCatalog(language string) (*Catalog, error) {
	entries, err := localeFiles.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	c := &Catalog{
		language: language,
		messages: make(map[string]map[string]string, len(entries)),
	}
	for _, entry := range entries {
		data, err := localeFiles.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", entry.Name(), err)
		}
		var table map[string]string
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("unmarshal locale %s: %w", entry.Name(), err)
		}
		lang := entry.Name()[:len(entry.Name())-len(".yaml")]
		c.messages[lang] = table
	}

	if _, ok := c.messages[language]; !ok {
		c.language = DefaultLanguage
	}
	return c, nil
}

// T returns the localized message for key, formatted with args. Unknown keys
// fall back to the default language, then to the key itself.
func (c *Catalog) T(key string, args ...any) string {
	msg, ok := c.messages[c.language][key]
	if !ok {
		msg, ok = c.messages[DefaultLanguage][key]
	}
	if !ok {
		msg = key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
