package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircular_WriteRead(t *testing.T) {
	buf := NewCircular[int](4)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, 4, buf.Capacity())
	assert.False(t, buf.IsFull())
	assert.False(t, buf.IsEmpty())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.True(t, buf.IsEmpty())
}

func TestCircular_RejectPolicy(t *testing.T) {
	buf := NewCircular[string](2, WithOverflowPolicy[string](Reject))

	require.NoError(t, buf.Write("a"))
	require.NoError(t, buf.Write("b"))

	// Buffer full - write must fail immediately, buffer unchanged
	err := buf.Write("c")
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 2, buf.Size())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	assert.Equal(t, int64(1), buf.Stats().Overflows())
}

func TestCircular_DropOldestPolicy(t *testing.T) {
	var dropped []int
	buf := NewCircular[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // evicts 1

	assert.Equal(t, []int{1}, dropped)

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCircular_DropCallbackReentrant(t *testing.T) {
	// The callback runs outside the buffer lock, so it may call back into
	// the buffer without deadlocking.
	var sizes []int
	var buf Buffer[int]
	buf = NewCircular[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(int) { sizes = append(sizes, buf.Size()) }),
	)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // evicts 1, callback reads Size
	assert.Equal(t, []int{2}, sizes)

	buf.Clear() // drops 2 and 3, callback reads Size twice
	assert.Equal(t, []int{2, 0, 0}, sizes)
}

func TestCircular_ReadBatch(t *testing.T) {
	buf := NewCircular[int](8)
	for i := 1; i <= 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	batch := buf.ReadBatch(3)
	assert.Equal(t, []int{1, 2, 3}, batch)
	assert.Equal(t, 2, buf.Size())

	// Asking for more than available drains the rest
	batch = buf.ReadBatch(10)
	assert.Equal(t, []int{4, 5}, batch)
	assert.True(t, buf.IsEmpty())

	assert.Nil(t, buf.ReadBatch(3))
	assert.Nil(t, buf.ReadBatch(0))
}

func TestCircular_FIFOAcrossWrap(t *testing.T) {
	buf := NewCircular[int](3)

	// Fill, drain partially, refill to force index wrap
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))
	buf.Read()
	buf.Read()
	require.NoError(t, buf.Write(4))
	require.NoError(t, buf.Write(5))

	assert.Equal(t, []int{3, 4, 5}, buf.ReadBatch(3))
}

func TestCircular_Peek(t *testing.T) {
	buf := NewCircular[int](2)

	_, ok := buf.Peek()
	assert.False(t, ok)

	require.NoError(t, buf.Write(42))
	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, buf.Size()) // Peek does not remove
}

func TestCircular_Clear(t *testing.T) {
	var dropped []int
	buf := NewCircular[int](4,
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	buf.Clear()
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, []int{1, 2, 3}, dropped)
}

func TestCircular_Closed(t *testing.T) {
	buf := NewCircular[int](2)
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())

	err := buf.Write(2)
	assert.ErrorIs(t, err, ErrClosed)

	// Draining after close still works
	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCircular_ConcurrentAccess(t *testing.T) {
	buf := NewCircular[int](128, WithOverflowPolicy[int](Reject))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(base + i)
				buf.Read()
			}
		}(w * 1000)
	}
	wg.Wait()

	stats := buf.Stats()
	assert.Equal(t, stats.Writes(), stats.Reads()+int64(buf.Size()))
}
