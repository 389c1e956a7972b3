package i18n

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogSelectsLanguage(t *testing.T) {
	en, err := NewCatalog("en")
	require.NoError(t, err)
	require.True(t, strings.Contains(en.T("chat.incomplete"), "Incomplete"))

	zh, err := NewCatalog("zh")
	require.NoError(t, err)
	require.True(t, strings.Contains(zh.T("chat.incomplete"), "内容不完整"))
}

func TestCatalogFallsBackToDefault(t *testing.T) {
	c, err := NewCatalog("fr")
	require.NoError(t, err)
	require.True(t, strings.Contains(c.T("chat.incomplete"), "Incomplete"))
}

func TestCatalogFormatsArgs(t *testing.T) {
	c, err := NewCatalog("en")
	require.NoError(t, err)
	require.Equal(t, "error calling the model backend: boom", c.T("chat.connect_error", "boom"))
}

func TestCatalogUnknownKeyReturnsKey(t *testing.T) {
	c, err := NewCatalog("en")
	require.NoError(t, err)
	require.Equal(t, "no.such.key", c.T("no.such.key"))
}
