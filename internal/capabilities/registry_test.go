package capabilities

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVisionClassification(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	tests := []struct {
		name     string
		supplier string
		model    string
		want     bool
	}{
		{"local plain model", "ollama", "llama3.2", false},
		{"local vision tag", "ollama", "llama3.2-vision", true},
		{"local llava", "ollama", "llava", true},
		{"remote qwen vl", "siliconflow", "qwen2-vl-72b", true},
		{"remote text-only family", "siliconflow", "qwen2.5-72b", false},
		{"remote deepseek", "deepseek", "deepseek-chat", false},
		{"remote unknown defaults to vision", "openai", "gpt-4o", true},
		{"remote coder family", "openai", "gpt-code-x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, r.IsVision(tt.supplier, tt.model))
		})
	}
}

func TestReasoningAndInlineDocs(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	require.True(t, r.IsReasoning("deepseek-r1"))
	require.True(t, r.IsReasoning("qwq"))
	require.False(t, r.IsReasoning("llama3.2"))

	require.True(t, r.InlineDocs("qwen2.5"))
	require.False(t, r.InlineDocs("llama3.2"))
}

func TestContextWindowLookup(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	require.Equal(t, 8192, r.ContextWindow("llama:3b"))
	require.Equal(t, 128000, r.ContextWindow("gpt-4o"))
	require.Equal(t, 4096, r.ContextWindow("never-heard-of-it"))

	n, ok := r.LookupContextWindow("qwen2.5:14b")
	require.True(t, ok)
	require.Equal(t, 32768, n)

	_, ok = r.LookupContextWindow("never-heard-of-it")
	require.False(t, ok)
}
