package broker

import (
	"golang.org/x/time/rate"
)

// EmitLimiter enforces the per-connection publish rate of spec.md §4.8:
// "if rate_limit_per_second > 0, reject emits exceeding that rate from
// one connection." Grounded on the token-bucket shape of
// ws/internal/shared/limits/connection_rate_limiter.go, simplified from
// that file's two-level (per-IP + global) limiter to the spec's single
// per-connection limiter — there is no "IP" in a local Unix-socket
// connection, and the spec does not call for a system-wide emit cap.
type EmitLimiter struct {
	limiter *rate.Limiter
}

// NewEmitLimiter builds a limiter allowing perSecond emits/sec with a
// burst equal to perSecond. perSecond <= 0 disables rate limiting
// (spec.md §4.6, "0 = off").
func NewEmitLimiter(perSecond int) *EmitLimiter {
	if perSecond <= 0 {
		return &EmitLimiter{limiter: nil}
	}
	burst := perSecond
	if burst < 1 {
		burst = 1
	}
	return &EmitLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether an emit on this connection may proceed right now.
// Subscribers are never rate-limited (spec.md §4.8); this is only ever
// consulted on the emit path.
func (l *EmitLimiter) Allow() bool {
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}
