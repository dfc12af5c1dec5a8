// Package project implements the per-project bootstrap and daemon
// lifecycle bookkeeping described in spec.md §4.6: directory layout,
// UUID assignment, and PID/socket file reclaim rules.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/adred-codev/hydra/internal/config"
	"github.com/google/uuid"
)

// DirName is the conventional name of the state directory created under a
// project root.
const DirName = ".hydra"

const (
	SocketFileName = "hydra.sock"
	PIDFileName    = "daemon.pid"
	ErrFileName    = "daemon.err"
)

// ErrAlreadyRunning is returned by ReclaimStale when a live daemon
// already owns the project's socket.
var ErrAlreadyRunning = errors.New("project: a daemon is already running for this project")

// Locate walks up from start looking for an existing state directory,
// mirroring spec.md §4.7 step 1 ("resolve the state directory (cwd or
// ancestors)"). It returns the state directory path, or an error if none
// is found by the time it reaches the filesystem root.
func Locate(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("project: resolve start dir: %w", err)
	}

	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("project: no %s found above %s", DirName, start)
		}
		dir = parent
	}
}

// Init creates the project layout described in spec.md §4.6 under
// projectRoot/.hydra, assigning a fresh ProjectId if one does not already
// exist. It is idempotent: calling it again on an already-initialized
// project is a no-op that returns the existing config.
func Init(projectRoot string, defaultTopics []string) (config.Config, error) {
	stateDir := filepath.Join(projectRoot, DirName)

	if info, err := os.Stat(stateDir); err == nil && info.IsDir() {
		if cfg, err := config.Load(stateDir); err == nil {
			return cfg, nil
		}
	}

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return config.Config{}, fmt.Errorf("project: create state dir: %w", err)
	}
	if err := os.Chmod(stateDir, 0o700); err != nil {
		return config.Config{}, fmt.Errorf("project: chmod state dir: %w", err)
	}

	cfg := config.Config{
		ProjectUUID:   uuid.New().String(),
		SocketPath:    filepath.Join(stateDir, SocketFileName),
		DefaultTopics: defaultTopics,
		Limits: config.Limits{
			MaxMessageSize:           config.DefaultMaxMessageSize,
			ReplayBufferCapacity:     config.DefaultReplayBufferCapacity,
			BroadcastChannelCapacity: config.DefaultBroadcastChannelCapacity,
			RateLimitPerSecond:       config.DefaultRateLimitPerSecond,
		},
	}

	if err := config.Write(stateDir, cfg); err != nil {
		return config.Config{}, err
	}
	if err := os.Chmod(filepath.Join(stateDir, config.FileName), 0o600); err != nil {
		return config.Config{}, fmt.Errorf("project: chmod config file: %w", err)
	}

	return cfg, nil
}

// StateDir returns the conventional state directory path under root,
// without checking whether it exists.
func StateDir(root string) string {
	return filepath.Join(root, DirName)
}

// PIDPath and ErrPath return the conventional paths for the
// daemon's lifecycle files inside a state directory.
func PIDPath(stateDir string) string { return filepath.Join(stateDir, PIDFileName) }
func ErrPath(stateDir string) string { return filepath.Join(stateDir, ErrFileName) }

// WritePID writes the current process's PID to the PID file with
// owner-only permissions (spec.md §4.5 step 5).
func WritePID(stateDir string) error {
	path := PIDPath(stateDir)
	data := []byte(strconv.Itoa(os.Getpid()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("project: write pid file: %w", err)
	}
	return nil
}

// RemovePID and RemoveSocket delete the daemon's lifecycle files on clean
// shutdown (spec.md §4.5 "Shutdown").
func RemovePID(stateDir string) error {
	err := os.Remove(PIDPath(stateDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func RemoveSocket(socketPath string) error {
	err := os.Remove(socketPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadPID reads the PID recorded in the state directory's PID file, if
// any.
func ReadPID(stateDir string) (int, bool, error) {
	data, err := os.ReadFile(PIDPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("project: read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("project: parse pid file: %w", err)
	}
	return pid, true, nil
}

// IsProcessLive reports whether pid refers to a process that is still
// running, using the signal-0 probe idiom (spec.md §4.6's "stale socket
// reclamation... only if the referenced PID is not live").
func IsProcessLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// ESRCH means no such process; EPERM means it exists but we can't
	// signal it, which still counts as live for reclamation purposes.
	return !errors.Is(err, syscall.ESRCH)
}

// ReclaimStale implements spec.md §6's "Persisted state reclaim rules":
// if the PID file references a live process, refuse to start (the caller
// should treat this as ErrAlreadyRunning); otherwise unlink the stale
// socket and PID file and let the caller proceed.
func ReclaimStale(stateDir, socketPath string) error {
	pid, ok, err := ReadPID(stateDir)
	if err != nil {
		return err
	}
	if ok && IsProcessLive(pid) {
		return ErrAlreadyRunning
	}
	if err := RemoveSocket(socketPath); err != nil {
		return fmt.Errorf("project: remove stale socket: %w", err)
	}
	if err := RemovePID(stateDir); err != nil {
		return fmt.Errorf("project: remove stale pid file: %w", err)
	}
	return nil
}
