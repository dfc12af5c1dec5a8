package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitCreatesLayoutWithRestrictivePermissions(t *testing.T) {
	root := t.TempDir()

	cfg, err := Init(root, []string{"general"})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ProjectUUID)
	require.Equal(t, filepath.Join(root, DirName, SocketFileName), cfg.SocketPath)

	stateDir := StateDir(root)
	info, err := os.Stat(stateDir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	cfgInfo, err := os.Stat(filepath.Join(stateDir, "config.toml"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), cfgInfo.Mode().Perm())
}

func TestInitIsIdempotent(t *testing.T) {
	root := t.TempDir()

	first, err := Init(root, []string{"general"})
	require.NoError(t, err)

	second, err := Init(root, []string{"general"})
	require.NoError(t, err)

	require.Equal(t, first.ProjectUUID, second.ProjectUUID)
}

func TestLocateFindsAncestorStateDir(t *testing.T) {
	root := t.TempDir()
	_, err := Init(root, nil)
	require.NoError(t, err)

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := Locate(nested)
	require.NoError(t, err)
	require.Equal(t, StateDir(root), found)
}

func TestLocateFailsWhenNoStateDirExists(t *testing.T) {
	root := t.TempDir()
	_, err := Locate(root)
	require.Error(t, err)
}

func TestWriteAndReadPID(t *testing.T) {
	stateDir := t.TempDir()
	require.NoError(t, WritePID(stateDir))

	pid, ok, err := ReadPID(stateDir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, os.Getpid(), pid)
}

func TestReadPIDMissingFileIsNotError(t *testing.T) {
	stateDir := t.TempDir()
	_, ok, err := ReadPID(stateDir)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsProcessLive(t *testing.T) {
	require.True(t, IsProcessLive(os.Getpid()))
	require.False(t, IsProcessLive(0))
}

func TestReclaimStaleRefusesWhenOwnerLive(t *testing.T) {
	stateDir := t.TempDir()
	require.NoError(t, WritePID(stateDir))

	err := ReclaimStale(stateDir, filepath.Join(stateDir, SocketFileName))
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestReclaimStaleRemovesDeadOwnerState(t *testing.T) {
	stateDir := t.TempDir()
	socketPath := filepath.Join(stateDir, SocketFileName)

	// A PID value extremely unlikely to be alive: write it directly so we
	// don't depend on this test process's own PID.
	require.NoError(t, os.WriteFile(PIDPath(stateDir), []byte("999999"), 0o600))
	require.NoError(t, os.WriteFile(socketPath, []byte{}, 0o600))

	require.NoError(t, ReclaimStale(stateDir, socketPath))

	_, ok, err := ReadPID(stateDir)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = os.Stat(socketPath)
	require.True(t, os.IsNotExist(err))
}
