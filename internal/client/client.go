// Package client implements the client half of spec.md §4.7: the same
// binary connects to a running daemon's socket, writes one request line,
// and reads the response. Grounded on the request/response shape of
// internal/daemon/protocol.go — this package only knows the wire format,
// never the engine.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/adred-codev/hydra/internal/config"
	"github.com/adred-codev/hydra/internal/project"
	"github.com/adred-codev/hydra/internal/pulse"
)

// ExitCode mirrors spec.md §6's client exit-code contract.
type ExitCode int

const (
	ExitOK                ExitCode = 0
	ExitBadUsage          ExitCode = 1
	ExitDaemonUnreachable ExitCode = 2
	ExitBrokerError       ExitCode = 3
)

// Error wraps a client-side failure with its exit code.
type Error struct {
	Code ExitCode
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Resolve finds the project's state directory above start and loads its
// config.toml (spec.md §4.7 step 1).
func Resolve(start string) (config.Config, string, error) {
	stateDir, err := project.Locate(start)
	if err != nil {
		return config.Config{}, "", &Error{Code: ExitBadUsage, Msg: err.Error()}
	}
	cfg, err := config.Load(stateDir)
	if err != nil {
		return config.Config{}, "", &Error{Code: ExitBadUsage, Msg: err.Error()}
	}
	return cfg, stateDir, nil
}

// Client is a connected socket to one project's daemon.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the daemon's socket (spec.md §4.7 step 2).
func Dial(cfg config.Config) (*Client, error) {
	conn, err := net.Dial("unix", cfg.SocketPath)
	if err != nil {
		return nil, &Error{Code: ExitDaemonUnreachable, Msg: fmt.Sprintf("daemon unreachable: %v", err)}
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

type wireRequest struct {
	Cmd     string `json:"cmd"`
	Channel string `json:"channel,omitempty"`
	Format  string `json:"format,omitempty"`
	Data    string `json:"data,omitempty"`
}

type wireResponse struct {
	Status    string `json:"status"`
	Format    string `json:"format,omitempty"`
	Size      int    `json:"size,omitempty"`
	Receivers int    `json:"receivers,omitempty"`
	Msg       string `json:"msg,omitempty"`
}

// EmitResult is the parsed outcome of an Emit call.
type EmitResult struct {
	Receivers int
	Size      int
}

// Emit sends one `emit` request and reads the single-line response
// (spec.md §4.7 step 4).
func (c *Client) Emit(channel, format string, body pulse.Body) (EmitResult, error) {
	if format == "" {
		format = "toon"
	}
	req := wireRequest{Cmd: "emit", Channel: channel, Format: format, Data: pulse.Base64Wrap(body)}
	if err := c.writeRequest(req); err != nil {
		return EmitResult{}, err
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return EmitResult{}, &Error{Code: ExitDaemonUnreachable, Msg: fmt.Sprintf("read response: %v", err)}
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return EmitResult{}, &Error{Code: ExitBrokerError, Msg: fmt.Sprintf("malformed response: %v", err)}
	}
	if resp.Status != "ok" {
		return EmitResult{}, &Error{Code: ExitBrokerError, Msg: resp.Msg}
	}
	return EmitResult{Receivers: resp.Receivers, Size: resp.Size}, nil
}

// streamEvent mirrors internal/daemon/protocol.go's out-of-band marker
// line. A body line is raw base64 and never starts with '{', so the two
// are unambiguous on the wire.
type streamEvent struct {
	Event string `json:"event"`
}

const eventLagged = "lagged"

// Subscribe sends a `subscribe` request and invokes onBody for each
// delivered body, in order, until the connection closes or onBody
// returns false (spec.md §4.7 step 5's "caller-requested first-message-
// and-exit"). onLagged, if non-nil, is invoked whenever the daemon
// reports that this subscriber missed bodies evicted from its buffer
// before it could read them (spec.md §7/§8's Lagged signal); returning
// false from onLagged ends the subscription the same as onBody would.
func (c *Client) Subscribe(channel string, onBody func(body pulse.Body) (keepGoing bool), onLagged func() (keepGoing bool)) error {
	req := wireRequest{Cmd: "subscribe", Channel: channel}
	if err := c.writeRequest(req); err != nil {
		return err
	}

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil // EOF / connection closed: normal termination
		}
		line = line[:len(line)-1]

		if len(line) > 0 && line[0] == '{' {
			var ev streamEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				return &Error{Code: ExitBrokerError, Msg: fmt.Sprintf("malformed stream event: %v", err)}
			}
			if ev.Event == eventLagged {
				if onLagged != nil && !onLagged() {
					return nil
				}
				continue
			}
			continue
		}

		body, err := pulse.Base64Unwrap(line)
		if err != nil {
			return &Error{Code: ExitBrokerError, Msg: fmt.Sprintf("malformed body: %v", err)}
		}
		if !onBody(body) {
			return nil
		}
	}
}

// Metrics sends a `metrics` request and returns the raw Prometheus text
// exposition payload.
func (c *Client) Metrics() (string, error) {
	if err := c.writeRequest(wireRequest{Cmd: "metrics"}); err != nil {
		return "", err
	}
	var sb []byte
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		sb = append(sb, buf[:n]...)
		if err != nil {
			break
		}
		if n < len(buf) {
			break
		}
	}
	return string(sb), nil
}

func (c *Client) writeRequest(req wireRequest) error {
	line, err := json.Marshal(req)
	if err != nil {
		return &Error{Code: ExitBadUsage, Msg: err.Error()}
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return &Error{Code: ExitDaemonUnreachable, Msg: fmt.Sprintf("write request: %v", err)}
	}
	return nil
}

// EnvSurface returns the environment variables bootstrap exports for
// downstream tooling (spec.md §6, "Environment surface"). The broker
// itself never reads these; they exist purely for consumers.
func EnvSurface(cfg config.Config) map[string]string {
	return map[string]string{
		"HYDRA_UUID":   cfg.ProjectUUID,
		"HYDRA_SOCKET": cfg.SocketPath,
		"HYDRA_FORMAT": "toon",
	}
}

// WorkingDirOrPanic returns the process's current working directory,
// used as the default search start for Resolve.
func WorkingDirOrPanic() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(dir)
}
