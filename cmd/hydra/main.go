// Command hydra is both the daemon and the client described in spec.md
// §1: `hydra init` bootstraps a project, `hydra start` runs the daemon in
// the foreground, and `hydra emit` / `hydra subscribe` / `hydra status`
// act as clients against a running daemon. Argument parsing is
// deliberately minimal (manual os.Args dispatch, no flag library) since
// an elaborate CLI front end is out of scope (spec.md §1).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adred-codev/hydra/internal/client"
	"github.com/adred-codev/hydra/internal/config"
	"github.com/adred-codev/hydra/internal/daemon"
	"github.com/adred-codev/hydra/internal/logbroker"
	"github.com/adred-codev/hydra/internal/project"
	"github.com/adred-codev/hydra/internal/pulse"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	logger := logbroker.New(logbroker.Options{Level: os.Getenv("HYDRA_LOG_LEVEL"), Service: "hydra"})

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug().Msgf(format, args...)
	})); err != nil {
		logger.Warn().Err(err).Msg("failed to set GOMAXPROCS from cgroup quota")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(int(client.ExitBadUsage))
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(logger, os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "emit":
		err = runEmit(os.Args[2:])
	case "subscribe":
		err = runSubscribe(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	default:
		usage()
		os.Exit(int(client.ExitBadUsage))
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if cerr, ok := err.(*client.Error); ok {
			os.Exit(int(cerr.Code))
		}
		os.Exit(int(client.ExitBadUsage))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: hydra <init|start|emit|subscribe|status> [args]")
}

func runInit(logger zerolog.Logger, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return &client.Error{Code: client.ExitBadUsage, Msg: err.Error()}
	}

	var topics []string
	if len(args) > 0 {
		topics = args
	}

	cfg, err := project.Init(root, topics)
	if err != nil {
		return &client.Error{Code: client.ExitBadUsage, Msg: err.Error()}
	}

	logger.Info().Str("project_uuid", cfg.ProjectUUID).Str("socket", cfg.SocketPath).Msg("project initialized")
	for k, v := range client.EnvSurface(cfg) {
		fmt.Printf("%s=%s\n", k, v)
	}
	return nil
}

func runStart(args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return &client.Error{Code: client.ExitBadUsage, Msg: err.Error()}
	}

	stateDir, err := project.Locate(root)
	if err != nil {
		return &client.Error{Code: client.ExitBadUsage, Msg: "project not initialized, run `hydra init` first"}
	}

	cfg, err := config.Load(stateDir)
	if err != nil {
		return &client.Error{Code: client.ExitBadUsage, Msg: err.Error()}
	}

	l := logbroker.New(logbroker.Options{Service: "hydra-daemon"})
	d := daemon.New(cfg, stateDir, l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func runEmit(args []string) error {
	if len(args) < 2 {
		return &client.Error{Code: client.ExitBadUsage, Msg: "usage: hydra emit <channel> <data>"}
	}
	channel, data := args[0], args[1]

	cfg, _, err := client.Resolve(client.WorkingDirOrPanic())
	if err != nil {
		return err
	}

	body, err := pulse.Build("note", channel, data, nil, cfg.Limits.MaxMessageSize)
	if err != nil {
		return &client.Error{Code: client.ExitBrokerError, Msg: err.Error()}
	}

	c, err := client.Dial(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Emit(channel, "toon", body)
	if err != nil {
		return err
	}
	fmt.Printf("ok receivers=%d size=%d\n", result.Receivers, result.Size)
	return nil
}

func runSubscribe(args []string) error {
	if len(args) < 1 {
		return &client.Error{Code: client.ExitBadUsage, Msg: "usage: hydra subscribe <channel>"}
	}
	channel := args[0]

	cfg, _, err := client.Resolve(client.WorkingDirOrPanic())
	if err != nil {
		return err
	}

	c, err := client.Dial(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Subscribe(channel, func(body pulse.Body) bool {
		fmt.Println(pulse.Base64Wrap(body))
		return true
	}, func() bool {
		fmt.Fprintln(os.Stderr, "hydra: lagged, some bodies were missed")
		return true
	})
}

func runStatus(args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return &client.Error{Code: client.ExitBadUsage, Msg: err.Error()}
	}

	stateDir, err := project.Locate(root)
	if err != nil {
		return &client.Error{Code: client.ExitBadUsage, Msg: err.Error()}
	}

	pid, running, err := project.ReadPID(stateDir)
	if err != nil {
		return &client.Error{Code: client.ExitBadUsage, Msg: err.Error()}
	}
	if !running {
		fmt.Println("status: stopped")
		return nil
	}

	live := project.IsProcessLive(pid)
	fmt.Printf("status: pid=%d live=%v\n", pid, live)

	verbose := len(args) > 0 && args[0] == "--verbose"
	if !verbose || !live {
		return nil
	}

	cfg, err := config.Load(stateDir)
	if err != nil {
		return nil
	}
	c, err := client.Dial(cfg)
	if err != nil {
		fmt.Println("daemon unreachable, falling back to file-only status")
		return nil
	}
	defer c.Close()

	metrics, err := c.Metrics()
	if err != nil {
		fmt.Println("daemon unreachable, falling back to file-only status")
		return nil
	}
	fmt.Println(metrics)
	return nil
}
