package tui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCycleSession(t *testing.T) {
	sessions := []string{"a", "b", "c"}

	require.Equal(t, "b", cycleSession(sessions, "a", true))
	require.Equal(t, "a", cycleSession(sessions, "c", true))
	require.Equal(t, "c", cycleSession(sessions, "a", false))
	require.Equal(t, "b", cycleSession(sessions, "c", false))

	// Unknown or empty selection lands on the first entry.
	require.Equal(t, "a", cycleSession(sessions, "", true))
	require.Equal(t, "a", cycleSession(sessions, "zzz", false))

	require.Equal(t, "", cycleSession(nil, "a", true))
}

func TestShortID(t *testing.T) {
	require.Equal(t, "abc", shortID("abc"))
	require.Equal(t, "12345678", shortID("123456789-abcdef"))
}

func TestRenderMarkdown_NilRendererFallsBack(t *testing.T) {
	require.Equal(t, "**bold**", renderMarkdown(nil, "**bold**"))
}
