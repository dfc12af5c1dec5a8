// Package fanout implements the bounded multi-consumer broadcast
// primitive described in spec.md §3 ("FanOutSink") and §9 ("Broadcast with
// per-subscriber cursors"). It is grounded on the teacher's channel-based
// fan-out (ws/internal/shared/broadcast.go, internal/session/hub.go's
// per-connection SendQueue) but each subscriber's channel additionally
// carries a lag flag, because the spec requires a slow subscriber to
// observe an explicit Lagged signal rather than silently miss bodies.
package fanout

import (
	"sync"
	"sync/atomic"
)

// ErrLagged is returned from Cursor.Next when the subscriber fell more
// than the sink's capacity behind and its cursor was advanced to newest
// (spec.md §5, §7, §9).
type ErrLagged struct{}

func (ErrLagged) Error() string { return "fanout: subscriber lagged, cursor advanced to newest" }

// ErrClosed is returned once the sink has been closed and the cursor has
// drained everything published before closure.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "fanout: sink closed" }

// ErrStopped is returned when the caller-supplied stop channel fires
// while Next is waiting.
type ErrStopped struct{}

func (ErrStopped) Error() string { return "fanout: cursor stopped" }

// Sink is a bounded in-flight broadcast of message bodies with
// independent per-subscriber cursors. Publish never blocks on a slow
// subscriber (spec.md §5, "Backpressure").
type Sink struct {
	mu       sync.Mutex
	subs     map[*Cursor]struct{}
	capacity int
	closed   bool
}

// NewSink creates a sink with the given in-flight capacity
// (broadcast_channel_capacity, spec.md §4.6).
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 1
	}
	return &Sink{
		subs:     make(map[*Cursor]struct{}),
		capacity: capacity,
	}
}

// Publish delivers body to every live cursor. A cursor whose buffer is
// full has its oldest entry dropped and its lag flag set instead of
// blocking the publisher.
func (s *Sink) Publish(body []byte) {
	s.mu.Lock()
	cursors := make([]*Cursor, 0, len(s.subs))
	for c := range s.subs {
		cursors = append(cursors, c)
	}
	s.mu.Unlock()

	for _, c := range cursors {
		c.deliver(body)
	}
}

// ReceiverCount returns the number of currently registered cursors.
func (s *Sink) ReceiverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close wakes every registered cursor so in-flight Next calls return
// ErrClosed once their buffered bodies are drained. The daemon does not
// call it; its subscribe handlers stop through their context instead.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cursors := make([]*Cursor, 0, len(s.subs))
	for c := range s.subs {
		cursors = append(cursors, c)
	}
	s.mu.Unlock()

	for _, c := range cursors {
		close(c.closed)
	}
}

// NewCursor registers a new subscriber cursor positioned at "now" — it
// only observes bodies Published after this call returns, matching
// spec.md §4.3 ("subscribe... Register a new cursor on the FanOutSink").
func (s *Sink) NewCursor() *Cursor {
	c := &Cursor{
		ch:     make(chan []byte, s.capacity),
		closed: make(chan struct{}),
		sink:   s,
	}

	s.mu.Lock()
	if s.closed {
		close(c.closed)
	} else {
		s.subs[c] = struct{}{}
	}
	s.mu.Unlock()

	return c
}

// Cursor is one subscriber's independent read position into a Sink.
type Cursor struct {
	ch     chan []byte
	lagged int32 // atomic: 1 means the next Next() must surface ErrLagged first
	closed chan struct{}
	sink   *Sink
}

func (c *Cursor) deliver(body []byte) {
	select {
	case c.ch <- body:
		return
	default:
	}

	// Buffer full: drop the oldest entry, mark lagged, then retry once.
	select {
	case <-c.ch:
	default:
	}
	atomic.StoreInt32(&c.lagged, 1)
	select {
	case c.ch <- body:
	default:
		// Extremely unlikely (another goroutine raced us); the lag flag
		// alone is still an accurate signal.
	}
}

// Next blocks until a body is available, the sink closes, or stop fires.
func (c *Cursor) Next(stop <-chan struct{}) ([]byte, error) {
	if atomic.CompareAndSwapInt32(&c.lagged, 1, 0) {
		return nil, ErrLagged{}
	}

	select {
	case body, ok := <-c.ch:
		if !ok {
			return nil, ErrClosed{}
		}
		return body, nil
	case <-c.closed:
		// Drain any bodies published before closure before reporting EOF.
		select {
		case body, ok := <-c.ch:
			if ok {
				return body, nil
			}
		default:
		}
		return nil, ErrClosed{}
	case <-stop:
		return nil, ErrStopped{}
	}
}

// Unregister removes the cursor from its sink. Safe to call multiple
// times. Called when a subscriber connection disconnects.
func (c *Cursor) Unregister() {
	c.sink.mu.Lock()
	delete(c.sink.subs, c)
	c.sink.mu.Unlock()
}
