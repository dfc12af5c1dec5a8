package walog

import (
	"testing"

	"github.com/adred-codev/hydra/internal/pulse"
	"github.com/stretchr/testify/require"
)

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, l.Append("a:b", pulse.Body("one")))
	require.NoError(t, l.Append("a:b", pulse.Body("two")))
	require.NoError(t, l.Append("c:d", pulse.Body("three")))
	require.NoError(t, l.Close())

	entries, err := Replay(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "a:b", entries[0].Topic)
	require.Equal(t, pulse.Body("one"), entries[0].Body)
	require.Equal(t, pulse.Body("two"), entries[1].Body)
	require.Equal(t, "c:d", entries[2].Topic)
}

func TestReplayOnMissingLogIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	entries, err := Replay(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCompactKeepsOnlyLastNPerTopic(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append("x:y", pulse.Body([]byte{byte('0' + i)})))
	}
	require.NoError(t, l.Compact(2))

	entries, err := Replay(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, pulse.Body([]byte{'3'}), entries[0].Body)
	require.Equal(t, pulse.Body([]byte{'4'}), entries[1].Body)

	// The log handle must still be writable after compaction.
	require.NoError(t, l.Append("x:y", pulse.Body([]byte{'5'})))
	require.NoError(t, l.Close())

	entries, err = Replay(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
