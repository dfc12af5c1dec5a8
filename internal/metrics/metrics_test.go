package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderIncludesRegisteredSeries(t *testing.T) {
	r := NewRegistry()
	r.ActiveConnections.Set(3)
	r.MessagesPublished.Add(5)

	out, err := r.Render()
	require.NoError(t, err)
	require.Contains(t, out, "hydra_connections_active")
	require.Contains(t, out, "hydra_messages_published_total")
}

func TestRenderIsStableAcrossCalls(t *testing.T) {
	r := NewRegistry()
	first, err := r.Render()
	require.NoError(t, err)
	second, err := r.Render()
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.True(t, strings.HasPrefix(first, "# HELP") || strings.Contains(first, "# HELP"))
}
