package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancelRegistryLifecycle(t *testing.T) {
	r := NewCancelRegistry()
	require.False(t, r.Alive("c1"), "unknown conversations read as stopped")

	ctx := r.Begin(context.Background(), "c1")
	require.True(t, r.Alive("c1"))
	require.NoError(t, ctx.Err())

	require.True(t, r.Stop("c1"))
	require.False(t, r.Alive("c1"))
	require.Error(t, ctx.Err(), "stop cancels the turn context")

	require.False(t, r.Stop("c1"), "second stop finds no live turn")

	r.End("c1")
	require.False(t, r.Alive("c1"))
}

func TestCancelRegistryOverlappingBeginReplaces(t *testing.T) {
	r := NewCancelRegistry()

	first := r.Begin(context.Background(), "c1")
	second := r.Begin(context.Background(), "c1")

	require.Error(t, first.Err(), "a second begin cancels the previous turn")
	require.NoError(t, second.Err())
	require.True(t, r.Alive("c1"))

	r.End("c1")
	require.Error(t, second.Err())
}

func TestUsageRecorder(t *testing.T) {
	u := NewUsageRecorder()
	u.Record("llama:3b")
	u.Record("llama:3b")
	u.Record("deepseek-chat")

	snap := u.Snapshot()
	require.Equal(t, 2, snap["llama:3b"])
	require.Equal(t, 1, snap["deepseek-chat"])

	snap["llama:3b"] = 99
	require.Equal(t, 2, u.Snapshot()["llama:3b"], "snapshot is a copy")
}
