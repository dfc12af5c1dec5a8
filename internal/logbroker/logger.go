// Package logbroker builds the structured logger shared by every
// component of the daemon and client, grounded on the teacher's
// src/logger.go and ws/internal/shared/monitoring/logger.go.
package logbroker

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the logger's output encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Options configures New.
type Options struct {
	Level   string // debug, info, warn, error
	Format  Format
	Service string // e.g. "hydra-daemon", "hydra-client"
	Output  io.Writer // defaults to os.Stderr
}

// New builds a zerolog.Logger configured the way the teacher configures
// its per-service loggers: JSON by default, timestamps, a "service" field,
// and an optional human-readable console encoder for local development.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stderr
	if opts.Output != nil {
		output = opts.Output
	}
	if opts.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	service := opts.Service
	if service == "" {
		service = "hydra"
	}

	return zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Logger()
}
