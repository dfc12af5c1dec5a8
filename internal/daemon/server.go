// Package daemon is the long-lived local process of spec.md §4.5: it owns
// the channel engine and the message log, binds the project's Unix domain
// socket, and multiplexes concurrent publishers and subscribers. Grounded
// on go-server-3/internal/transport/server.go's Start/Stop/acceptLoop
// shape, with the TCP+WebSocket-upgrade transport replaced by a raw
// net.Listen("unix", ...) socket carrying line-delimited JSON, and with
// golang.org/x/sync/errgroup added to supervise the accept loop, the
// compaction ticker, and the resource guard as one cancelable group
// (the teacher instead hand-rolls a sync.WaitGroup per concern).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/adred-codev/hydra/internal/broker"
	"github.com/adred-codev/hydra/internal/config"
	"github.com/adred-codev/hydra/internal/health"
	"github.com/adred-codev/hydra/internal/metrics"
	"github.com/adred-codev/hydra/internal/project"
	"github.com/adred-codev/hydra/internal/walog"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CompactInterval is the default period between message-log compactions
// (spec.md §4.4, "periodic (default every 10 minutes)").
const CompactInterval = 10 * time.Minute

// HealthSampleInterval is the default period between resource samples.
const HealthSampleInterval = 5 * time.Second

// Daemon is the process-wide singleton described in spec.md §3
// ("DaemonState"): the listener, channel registry, log handle, config
// snapshot, and shutdown trigger, created at start and torn down at
// shutdown — never a package-level global.
type Daemon struct {
	cfg      config.Config
	stateDir string
	logger   zerolog.Logger

	engine  *broker.Engine
	log     *walog.Log
	metrics *metrics.Registry
	guard   *health.Guard

	listener net.Listener
}

// New constructs a Daemon for one project's state directory. It performs
// no I/O; call Run to bind the socket and begin serving.
func New(cfg config.Config, stateDir string, logger zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:      cfg,
		stateDir: stateDir,
		logger:   logger,
		metrics:  metrics.NewRegistry(),
		guard:    health.New(health.DefaultThresholds, logger),
	}
}

// Run executes the full startup sequence of spec.md §4.5 and then blocks,
// serving connections until ctx is cancelled, at which point it runs the
// shutdown sequence before returning.
func (d *Daemon) Run(ctx context.Context) error {
	if err := project.ReclaimStale(d.stateDir, d.cfg.SocketPath); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: bind socket: %w", err)
	}
	if err := os.Chmod(d.cfg.SocketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("daemon: chmod socket: %w", err)
	}
	d.listener = listener
	d.logger.Info().Str("socket", d.cfg.SocketPath).Msg("daemon listening")

	log, err := walog.Open(d.stateDir)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("daemon: open message log: %w", err)
	}
	d.log = log
	defer d.log.Close()

	d.engine = broker.New(d.log, d.cfg.Limits.ReplayBufferCapacity, d.cfg.Limits.BroadcastChannelCapacity, d.logger)

	entries, err := walog.Replay(d.stateDir)
	if err != nil {
		d.logger.Error().Err(err).Msg("message log replay failed")
	} else {
		d.engine.Restore(d.cfg.ProjectUUID, entries)
		d.logger.Info().Int("entries", len(entries)).Msg("message log replayed")
	}

	if err := project.WritePID(d.stateDir); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return d.guard.Run(groupCtx, HealthSampleInterval) })
	group.Go(func() error { return d.runCompactor(groupCtx) })
	group.Go(func() error { return d.acceptLoop(groupCtx) })

	<-groupCtx.Done()
	d.shutdown()

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (d *Daemon) runCompactor(ctx context.Context) error {
	ticker := time.NewTicker(CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.log.Compact(d.cfg.Limits.ReplayBufferCapacity); err != nil {
				d.logger.Error().Err(err).Msg("message log compaction failed")
			} else {
				d.logger.Info().Msg("message log compacted")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Daemon) acceptLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = d.listener.Close()
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.metrics.AcceptErrors.Inc()
			d.logger.Error().Err(err).Msg("accept error")
			return err
		}

		if d.guard.Overloaded() {
			d.logger.Warn().Msg("rejecting connection, daemon overloaded")
			_ = conn.Close()
			continue
		}

		d.metrics.ActiveConnections.Inc()
		go func() {
			defer d.metrics.ActiveConnections.Dec()
			d.handleConnection(ctx, conn)
		}()
	}
}

// shutdown runs spec.md §4.5's "Shutdown" sequence beyond what Run's
// defer/errgroup teardown already covers: close the listener, then unlink
// the socket and PID files. It does not wait for in-flight connection
// handlers: subscribe streams end when their context is cancelled, and
// other connections are not waited for before Run closes the message log.
func (d *Daemon) shutdown() {
	d.logger.Info().Msg("daemon shutting down")
	if d.listener != nil {
		_ = d.listener.Close()
	}
	if err := project.RemoveSocket(d.cfg.SocketPath); err != nil {
		d.logger.Warn().Err(err).Msg("failed to remove socket file")
	}
	if err := project.RemovePID(d.stateDir); err != nil {
		d.logger.Warn().Err(err).Msg("failed to remove pid file")
	}
}
