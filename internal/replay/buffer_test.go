package replay

import (
	"testing"

	"github.com/adred-codev/hydra/internal/pulse"
	"github.com/stretchr/testify/require"
)

func body(s string) pulse.Body { return pulse.Body(s) }

func TestBufferFIFOEviction(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Push(body(string(rune('a' + i))))
	}

	require.Equal(t, 3, b.Len())
	snap := b.Snapshot()
	require.Equal(t, []pulse.Body{body("c"), body("d"), body("e")}, snap)
}

func TestBufferSnapshotIsStableCopy(t *testing.T) {
	b := New(2)
	b.Push(body("1"))
	snap := b.Snapshot()
	b.Push(body("2"))
	b.Push(body("3"))

	require.Equal(t, []pulse.Body{body("1")}, snap, "earlier snapshot must not observe later pushes")
	require.Equal(t, []pulse.Body{body("2"), body("3")}, b.Snapshot())
}

func TestBufferBoundedAtAllTimes(t *testing.T) {
	b := New(100)
	for i := 0; i < 150; i++ {
		b.Push(body("x"))
	}
	require.LessOrEqual(t, b.Len(), 100)
}

func TestBufferOrderPreservedUnderCapacity(t *testing.T) {
	b := New(5)
	b.Push(body("a"))
	b.Push(body("b"))
	require.Equal(t, []pulse.Body{body("a"), body("b")}, b.Snapshot())
}
