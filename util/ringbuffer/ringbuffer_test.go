package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := New[int](10, 3)

	for i := 0; i < 100; i++ {
		b.Push(i)
		require.LessOrEqual(t, b.Len(), b.Cap())
	}

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 99, last)
}

func TestBuffer_BatchEviction(t *testing.T) {
	b := New[int](4, 2)

	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, b.Push(i))
	}

	assert.Equal(t, []int{0, 1, 2, 3}, b.Items())

	assert.Equal(t, 2, b.Push(4))
	assert.Equal(t, []int{2, 3, 4}, b.Items())

	assert.Equal(t, 0, b.Push(5))
	assert.Equal(t, 2, b.Push(6))
	assert.Equal(t, []int{4, 5, 6}, b.Items())
}

func TestBuffer_MarginClamped(t *testing.T) {
	b := New[string](2, 10)

	b.Push("a")
	b.Push("b")
	assert.Equal(t, 2, b.Push("c"))
	assert.Equal(t, []string{"c"}, b.Items())

	b = New[string](0, 0)
	assert.Equal(t, 1, b.Cap())
	b.Push("x")
	b.Push("y")
	assert.Equal(t, []string{"y"}, b.Items())
}

func TestBuffer_TailAndReset(t *testing.T) {
	b := New[int](8, 1)

	for i := 0; i < 5; i++ {
		b.Push(i)
	}

	assert.Equal(t, []int{3, 4}, b.Tail(2))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, b.Tail(100))
	assert.Empty(t, b.Tail(0))
	assert.Empty(t, b.Tail(-1))

	b.Reset()
	assert.Equal(t, 0, b.Len())

	_, ok := b.Last()
	assert.False(t, ok)
}

func TestBuffer_ItemsIsCopy(t *testing.T) {
	b := New[int](3, 1)
	b.Push(1)

	items := b.Items()
	items[0] = 42

	assert.Equal(t, []int{1}, b.Items())
}
