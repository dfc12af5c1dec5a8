package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/adred-codev/hydra/internal/broker"
	"github.com/adred-codev/hydra/internal/fanout"
	"github.com/adred-codev/hydra/internal/pulse"
)

// handleConnection implements spec.md §4.5's per-connection protocol: the
// connection carries line-delimited JSON requests, dispatched one at a
// time (the teacher's readLoop/writeLoop split exists because WebSocket
// framing needs independent directions; a `subscribe` here instead simply
// takes over the connection's write side for its lifetime, which matches
// the protocol's "streaming: one line per body, until the connection
// closes" contract directly).
func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	limiter := broker.NewEmitLimiter(d.cfg.Limits.RateLimitPerSecond)
	reader := bufio.NewReaderSize(conn, 64*1024)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if len(line) == 0 {
				return
			}
			// Fall through once to process a final unterminated line,
			// then return regardless of what happens next.
			d.dispatch(ctx, conn, limiter, line)
			return
		}

		if !d.dispatch(ctx, conn, limiter, line) {
			return
		}
	}
}

// dispatch handles one request line. It returns false when the
// connection should be closed, which happens only after a subscribe
// stream has ended; malformed or unknown requests get an error reply and
// leave the connection open.
func (d *Daemon) dispatch(ctx context.Context, conn net.Conn, limiter *broker.EmitLimiter, line string) bool {
	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		writeLine(conn, mustJSON(emitResponse{Status: statusError, Msg: broker.ErrBadEncoding.Error()}))
		return true
	}

	switch req.Cmd {
	case cmdEmit:
		d.handleEmit(conn, limiter, req)
		return true
	case cmdSubscribe:
		d.handleSubscribe(ctx, conn, req)
		return false
	case cmdMetrics:
		d.handleMetrics(conn)
		return true
	default:
		writeLine(conn, mustJSON(emitResponse{Status: statusError, Msg: broker.ErrUnknownCommand.Error()}))
		return true
	}
}

func (d *Daemon) handleEmit(conn net.Conn, limiter *broker.EmitLimiter, req request) {
	if !limiter.Allow() {
		d.metrics.EmitRateLimited.Inc()
		writeLine(conn, mustJSON(emitResponse{Status: statusError, Msg: broker.ErrRateLimited.Error()}))
		return
	}

	body, err := pulse.Base64Unwrap(req.Data)
	if err != nil {
		writeLine(conn, mustJSON(emitResponse{Status: statusError, Msg: broker.ErrBadEncoding.Error()}))
		return
	}

	if err := pulse.CheckSize(body, d.cfg.Limits.MaxMessageSize); err != nil {
		d.metrics.EmitTooLarge.Inc()
		writeLine(conn, mustJSON(emitResponse{Status: statusError, Msg: err.Error()}))
		return
	}

	format := req.Format
	if format == "" {
		format = defaultFormat
	}

	key := broker.Key{ProjectID: d.cfg.ProjectUUID, Topic: req.Channel}
	receivers, err := d.engine.Publish(key, body)
	if err != nil {
		writeLine(conn, mustJSON(emitResponse{Status: statusError, Msg: err.Error()}))
		return
	}

	d.metrics.MessagesPublished.Inc()
	writeLine(conn, mustJSON(emitResponse{
		Status:    statusOK,
		Format:    format,
		Size:      len(body),
		Receivers: receivers,
	}))
}

func (d *Daemon) handleSubscribe(ctx context.Context, conn net.Conn, req request) {
	key := broker.Key{ProjectID: d.cfg.ProjectUUID, Topic: req.Channel}
	sub := d.engine.Subscribe(key)
	defer sub.Cursor.Unregister()

	for _, body := range sub.Snapshot {
		if !writeLine(conn, pulse.Base64Wrap(body)) {
			return
		}
	}

	stop := ctx.Done()
	for {
		body, err := sub.Cursor.Next(stop)
		if err != nil {
			var lagged fanout.ErrLagged
			if errors.As(err, &lagged) {
				d.metrics.MessagesLagged.Inc()
				if !writeLine(conn, mustJSON(streamEvent{Event: eventLagged})) {
					return
				}
				continue
			}
			return
		}
		d.metrics.MessagesDelivered.Inc()
		if !writeLine(conn, pulse.Base64Wrap(pulse.Body(body))) {
			return
		}
	}
}

func (d *Daemon) handleMetrics(conn net.Conn) {
	d.metrics.ChannelCount.Set(float64(d.engine.ChannelCount()))
	rendered, err := d.metrics.Render()
	if err != nil {
		writeLine(conn, mustJSON(emitResponse{Status: statusError, Msg: err.Error()}))
		return
	}
	writeLine(conn, rendered)
}

func writeLine(conn net.Conn, line string) bool {
	_, err := fmt.Fprintln(conn, line)
	return err == nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"status":"error","msg":"internal encoding error"}`
	}
	return string(b)
}
