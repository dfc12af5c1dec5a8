// Package broker is the channel engine of spec.md §4.3: the registry of
// (ProjectID, Topic) -> (fan-out sink, replay buffer) pairs, and the
// atomic publish/subscribe operations over it. Grounded on the registry
// shape of the teacher's session.Hub (go-server-3/internal/session/hub.go)
// generalized from a single global hub to a per-(project, topic) keyed
// registry, because the spec requires full isolation between projects and
// topics (spec.md §8, properties 1 and 2) that a single shared hub does
// not give.
package broker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/adred-codev/hydra/internal/fanout"
	"github.com/adred-codev/hydra/internal/pulse"
	"github.com/adred-codev/hydra/internal/replay"
	"github.com/adred-codev/hydra/internal/walog"
	"github.com/rs/zerolog"
)

// Sentinel errors surfaced to the wire protocol (spec.md §7).
var (
	ErrTooLarge       = pulse.ErrTooLarge
	ErrLogFailed      = errors.New("broker: log append failed")
	ErrUnknownCommand = errors.New("broker: unknown command")
	ErrBadEncoding    = errors.New("broker: bad encoding")
	ErrRateLimited    = errors.New("broker: rate limited")
)

// Key identifies one channel: (ProjectID, Topic). Two keys with different
// ProjectID values or different Topic values share no state (spec.md
// §4.3, "Project isolation").
type Key struct {
	ProjectID string
	Topic     string
}

// channel owns its own mutex, separate from the registry's map lock, so
// that publishes to one channel serialize against each other (preserving
// the log-append-then-buffer-then-fanout order spec.md §5 requires)
// without blocking publishes to unrelated channels.
type channel struct {
	mu     sync.Mutex
	sink   *fanout.Sink
	buffer *replay.Buffer
}

// Engine is the process-wide channel registry for one project's daemon.
// Per spec.md §9, this is an explicit object created at daemon start and
// torn down at shutdown, not a package-level singleton.
type Engine struct {
	mu       sync.Mutex
	channels map[Key]*channel
	log      *walog.Log
	logger   zerolog.Logger

	replayCapacity   int
	broadcastCapacity int
}

// New creates an empty engine. replayCapacity and broadcastCapacity come
// from project config (spec.md §4.6).
func New(log *walog.Log, replayCapacity, broadcastCapacity int, logger zerolog.Logger) *Engine {
	return &Engine{
		channels:          make(map[Key]*channel),
		log:               log,
		logger:            logger,
		replayCapacity:    replayCapacity,
		broadcastCapacity: broadcastCapacity,
	}
}

// getOrCreate performs the atomic insert-if-absent described in spec.md
// §4.3. Caller must hold e.mu.
func (e *Engine) getOrCreate(key Key) *channel {
	ch, ok := e.channels[key]
	if ok {
		return ch
	}
	ch = &channel{
		sink:   fanout.NewSink(e.broadcastCapacity),
		buffer: replay.New(e.replayCapacity),
	}
	e.channels[key] = ch
	return ch
}

// GetOrCreate is the public form of spec.md §4.3's get_or_create,
// returning just the sink for callers that only need to check liveness.
func (e *Engine) GetOrCreate(key Key) *fanout.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getOrCreate(key).sink
}

// Publish performs the atomic publish step of spec.md §4.3:
//  1. acquire (creating if absent)
//  2. append to the message log — durable before visible; on failure the
//     publish aborts and neither the buffer nor the sink is touched
//  3. append to the replay buffer
//  4. publish to the fan-out sink
//  5. release
//  6. return the receiver count
//
// The registry map lock (e.mu) is held only long enough to find-or-create
// the channel, per spec.md §5 ("Acquisition of the channel registry lock
// is synchronous and MUST be short (no I/O while holding it)"). The
// channel's own lock is then held across the log append and the buffer
// and fan-out writes, so that two publishes to the *same* channel are
// applied to the log, buffer, and sink in the same order — spec.md §5's
// ordering invariant — while publishes to different channels never
// contend with each other.
func (e *Engine) Publish(key Key, body pulse.Body) (int, error) {
	e.mu.Lock()
	ch := e.getOrCreate(key)
	e.mu.Unlock()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if err := e.log.Append(key.Topic, body); err != nil {
		e.logger.Error().Err(err).Str("project", key.ProjectID).Str("topic", key.Topic).
			Msg("log append failed, publish aborted")
		return 0, fmt.Errorf("%w: %v", ErrLogFailed, err)
	}

	ch.buffer.Push(body)
	ch.sink.Publish(body)

	return ch.sink.ReceiverCount(), nil
}

// Subscription is returned by Subscribe: the replay snapshot taken at
// registration time, plus a live cursor for everything published after.
type Subscription struct {
	Snapshot []pulse.Body
	Cursor   *fanout.Cursor
}

// Subscribe performs spec.md §4.3's subscribe steps: acquire (creating if
// absent), snapshot the replay buffer, register a cursor, release, and
// return both. The channel lock is held across the snapshot and cursor
// registration, the same lock Publish holds across its buffer-push and
// fan-out-publish — so no publish can land between "snapshot taken" and
// "cursor registered," which would otherwise let a subscriber miss a
// body (absent from the snapshot, published before the cursor existed).
func (e *Engine) Subscribe(key Key) Subscription {
	e.mu.Lock()
	ch := e.getOrCreate(key)
	e.mu.Unlock()

	ch.mu.Lock()
	snapshot := ch.buffer.Snapshot()
	cursor := ch.sink.NewCursor()
	ch.mu.Unlock()

	return Subscription{Snapshot: snapshot, Cursor: cursor}
}

// ChannelCount reports the number of distinct (project, topic) channels
// currently registered. Used by the metrics and status surfaces.
func (e *Engine) ChannelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// Restore rebuilds replay buffers from a walog.Replay result on daemon
// startup (spec.md §4.4 "replay() ... rebuilds replay buffers"). Unlike
// Publish, it does not re-append to the log (the entries came from the
// log) and does not fan out (there are no subscribers yet at this point
// in startup).
func (e *Engine) Restore(projectID string, entries []walog.Entry) {
	for _, entry := range entries {
		key := Key{ProjectID: projectID, Topic: entry.Topic}

		e.mu.Lock()
		ch := e.getOrCreate(key)
		e.mu.Unlock()

		ch.mu.Lock()
		ch.buffer.Push(entry.Body)
		ch.mu.Unlock()
	}
}
