package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/adred-codev/hydra/internal/config"
	"github.com/adred-codev/hydra/internal/daemon"
	"github.com/adred-codev/hydra/internal/project"
	"github.com/adred-codev/hydra/internal/pulse"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func startDaemon(t *testing.T) (config.Config, func()) {
	t.Helper()
	root := t.TempDir()
	cfg, err := project.Init(root, []string{"general"})
	require.NoError(t, err)
	cfg.Limits.MaxMessageSize = 1024
	require.NoError(t, config.Write(project.StateDir(root), cfg))

	d := daemon.New(cfg, project.StateDir(root), zerolog.Nop())
	stopped := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { stopped <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		c, err := Dial(cfg)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return cfg, func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

func TestEmitAndSubscribeRoundTrip(t *testing.T) {
	cfg, stop := startDaemon(t)
	defer stop()

	emitter, err := Dial(cfg)
	require.NoError(t, err)
	defer emitter.Close()

	body, err := pulse.Build("note", "a:b", "hello", nil, cfg.Limits.MaxMessageSize)
	require.NoError(t, err)

	result, err := emitter.Emit("a:b", "toon", body)
	require.NoError(t, err)
	require.Equal(t, 0, result.Receivers)

	sub, err := Dial(cfg)
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan pulse.Body, 1)
	go func() {
		_ = sub.Subscribe("a:b", func(b pulse.Body) bool {
			received <- b
			return false
		}, nil)
	}()

	select {
	case got := <-received:
		require.Equal(t, body, got)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive snapshot body")
	}
}

// TestSubscribeSurfacesLaggedEvent feeds a synthetic wire stream — a
// body line, then the daemon's out-of-band lagged marker, then another
// body line — directly into a Client over a net.Pipe, bypassing the
// daemon entirely. This isolates Subscribe's own marker-vs-body parsing
// (internal/daemon/daemon_test.go's TestHandleSubscribeSurfacesLaggedMarkerOnWire
// covers the daemon side of the same contract).
func TestSubscribeSurfacesLaggedEvent(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		reader := bufio.NewReader(serverConn)
		_, _ = reader.ReadString('\n') // the subscribe request line

		fmt.Fprintln(serverConn, pulse.Base64Wrap(pulse.Body("before")))
		fmt.Fprintln(serverConn, `{"event":"lagged"}`)
		fmt.Fprintln(serverConn, pulse.Base64Wrap(pulse.Body("after")))
		serverConn.Close()
	}()

	c := &Client{conn: clientConn, reader: bufio.NewReader(clientConn)}

	var bodies []pulse.Body
	laggedCount := 0
	err := c.Subscribe("a:b", func(b pulse.Body) bool {
		bodies = append(bodies, b)
		return true
	}, func() bool {
		laggedCount++
		return true
	})

	require.NoError(t, err)
	require.Equal(t, []pulse.Body{pulse.Body("before"), pulse.Body("after")}, bodies)
	require.Equal(t, 1, laggedCount)
}

func TestEmitTooLargeReturnsBrokerError(t *testing.T) {
	cfg, stop := startDaemon(t)
	defer stop()

	c, err := Dial(cfg)
	require.NoError(t, err)
	defer c.Close()

	oversized := make(pulse.Body, 2048)
	_, err = c.Emit("c:c", "toon", oversized)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, ExitBrokerError, cerr.Code)
}

func TestResolveFailsOutsideProject(t *testing.T) {
	_, _, err := Resolve(t.TempDir())
	require.Error(t, err)
}

func TestEnvSurface(t *testing.T) {
	cfg := config.Config{ProjectUUID: "u", SocketPath: filepath.Join("x", "hydra.sock")}
	env := EnvSurface(cfg)
	require.Equal(t, "u", env["HYDRA_UUID"])
	require.Equal(t, cfg.SocketPath, env["HYDRA_SOCKET"])
}
