// Package metrics wraps the Prometheus collectors exposed over the
// daemon's `metrics` wire command (SPEC_FULL.md §3, supplemented feature).
// Grounded on go-server-3/internal/metrics/metrics.go's Registry shape,
// adapted from an HTTP-exposed /metrics handler to a text-exposition
// renderer invoked from the connection handler, since spec.md's
// "single Unix domain socket, no network transport" non-goal rules out a
// second HTTP listener.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Registry wraps the Prometheus collectors the daemon keeps for one
// project's lifetime.
type Registry struct {
	reg *prometheus.Registry

	ActiveConnections prometheus.Gauge
	ChannelCount       prometheus.Gauge

	MessagesPublished prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesLagged    prometheus.Counter
	EmitTooLarge      prometheus.Counter
	EmitRateLimited   prometheus.Counter
	AcceptErrors      prometheus.Counter
}

// NewRegistry creates a fresh, process-local Prometheus registry — not
// the global default registerer — so that multiple daemons in the same
// test binary (or a future multi-project daemon) never collide on metric
// names.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_connections_active",
			Help: "Number of open client connections to the daemon.",
		}),
		ChannelCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_channels_registered",
			Help: "Number of distinct (project, topic) channels currently registered.",
		}),
		MessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydra_messages_published_total",
			Help: "Total pulses accepted by emit.",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydra_messages_delivered_total",
			Help: "Total pulses handed to a subscriber cursor.",
		}),
		MessagesLagged: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydra_subscribers_lagged_total",
			Help: "Total times a subscriber's cursor overflowed and was advanced to newest.",
		}),
		EmitTooLarge: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydra_emit_too_large_total",
			Help: "Total emits rejected for exceeding max_message_size.",
		}),
		EmitRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydra_emit_rate_limited_total",
			Help: "Total emits rejected by the per-connection rate limiter.",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydra_accept_errors_total",
			Help: "Total connection accept/handshake failures.",
		}),
	}
}

// Render produces the Prometheus text-exposition payload for the
// `metrics` wire command.
func (r *Registry) Render() (string, error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	enc := expfmt.NewEncoder(&sb, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
