// Package replay implements the bounded FIFO replay buffer described in
// spec.md §4.2. It is grounded on the shape of the teacher's
// src/replay_buffer.go eviction logic, simplified to the spec's contract:
// the buffer stores opaque bodies, not application-level envelopes with
// their own sequence numbers or pooled byte storage.
package replay

import (
	"sync"

	"github.com/adred-codev/hydra/internal/pulse"
)

// Buffer is a fixed-capacity ring FIFO of recent message bodies for one
// channel. Single-writer discipline: only the channel engine's publish
// path calls Push; everything else calls Snapshot.
type Buffer struct {
	mu       sync.RWMutex
	data     []pulse.Body
	head     int // index of the oldest entry
	count    int
	capacity int
}

// New creates a buffer with a fixed capacity. capacity must come from
// project config (spec.md §4.2); it is never resized after construction.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		data:     make([]pulse.Body, capacity),
		capacity: capacity,
	}
}

// Push appends body, evicting the oldest entry first if the buffer is at
// capacity. O(1).
func (b *Buffer) Push(body pulse.Body) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.head + b.count) % b.capacity
	if b.count == b.capacity {
		b.data[idx] = body
		b.head = (b.head + 1) % b.capacity
		return
	}
	b.data[idx] = body
	b.count++
}

// Snapshot returns a stable, independent copy of the buffer's current
// contents in publish order. Safe to call concurrently with Push.
func (b *Buffer) Snapshot() []pulse.Body {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]pulse.Body, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%b.capacity]
	}
	return out
}

// Len reports the number of bodies currently buffered.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity reports the fixed capacity this buffer was constructed with.
func (b *Buffer) Capacity() int {
	return b.capacity
}
