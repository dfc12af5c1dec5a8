// Package health is the daemon's self-protection valve: a periodic
// CPU/memory sampler that tells the accept loop when to pause taking new
// connections. Grounded on ws/internal/shared/limits/resource_guard.go's
// ResourceGuard, trimmed to the one responsibility spec.md's "cooperating
// local agent processes" scenario actually needs — this is a single-host
// broker with no Kafka consumption or broadcast rate to gate, so the
// Kafka/goroutine-limiter machinery of the teacher's guard has no home
// here and was dropped (see DESIGN.md).
package health

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Thresholds configures when the guard reports the daemon as overloaded.
type Thresholds struct {
	CPUPercent    float64
	MemoryPercent float64
}

// DefaultThresholds mirror a conservative single-host default: pause
// accepting new connections only when the host is genuinely under
// pressure, since hydra is expected to run alongside the very agent
// processes it serves.
var DefaultThresholds = Thresholds{CPUPercent: 90, MemoryPercent: 90}

// Guard samples host resource usage on an interval and exposes a cheap
// atomic check the accept loop can consult per-connection without
// touching gopsutil on the hot path.
type Guard struct {
	thresholds Thresholds
	logger     zerolog.Logger

	overloaded atomic.Bool
	cpuPercent atomic.Value // float64
	memPercent atomic.Value // float64
}

// New creates a Guard. Call Run in a goroutine to start sampling.
func New(thresholds Thresholds, logger zerolog.Logger) *Guard {
	g := &Guard{thresholds: thresholds, logger: logger}
	g.cpuPercent.Store(float64(0))
	g.memPercent.Store(float64(0))
	return g
}

// Run samples resource usage every interval until ctx is cancelled.
// Intended to be started as one of the daemon's errgroup goroutines.
func (g *Guard) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.sample()
	for {
		select {
		case <-ticker.C:
			g.sample()
		case <-ctx.Done():
			return nil
		}
	}
}

func (g *Guard) sample() {
	cpuPercent := g.readCPU()
	memPercent := g.readMemory()

	g.cpuPercent.Store(cpuPercent)
	g.memPercent.Store(memPercent)

	overloaded := cpuPercent > g.thresholds.CPUPercent || memPercent > g.thresholds.MemoryPercent
	wasOverloaded := g.overloaded.Swap(overloaded)

	if overloaded && !wasOverloaded {
		g.logger.Warn().
			Float64("cpu_percent", cpuPercent).
			Float64("memory_percent", memPercent).
			Msg("daemon overloaded, pausing new connection accepts")
	} else if !overloaded && wasOverloaded {
		g.logger.Info().Msg("daemon resource pressure cleared, resuming accepts")
	}
}

func (g *Guard) readCPU() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func (g *Guard) readMemory() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}

// Overloaded reports the most recent sample's verdict. Safe for
// concurrent use from the accept loop.
func (g *Guard) Overloaded() bool {
	return g.overloaded.Load()
}

// Snapshot returns the most recent CPU/memory readings and the current
// goroutine count.
func (g *Guard) Snapshot() (cpuPercent, memPercent float64, goroutines int) {
	return g.cpuPercent.Load().(float64), g.memPercent.Load().(float64), runtime.NumGoroutine()
}
