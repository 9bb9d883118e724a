package stream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenOrReuse(t *testing.T) {
	c := NewCoordinator()

	handle, opened := c.OpenOrReuse("conv-1")
	require.True(t, opened)
	assert.Equal(t, "conv-1", handle.ConversationID)
	assert.False(t, handle.OpenedAt.IsZero())

	again, opened := c.OpenOrReuse("conv-1")
	assert.False(t, opened)
	assert.Equal(t, handle, again)

	other, opened := c.OpenOrReuse("conv-2")
	assert.True(t, opened)
	assert.Equal(t, "conv-2", other.ConversationID)
}

func TestTryIncrementPendingRequiresOpenStream(t *testing.T) {
	c := NewCoordinator()

	assert.False(t, c.TryIncrementPending("conv-1"))
	assert.Equal(t, 0, c.Pending("conv-1"))

	c.OpenOrReuse("conv-1")
	assert.True(t, c.TryIncrementPending("conv-1"))
	assert.True(t, c.TryIncrementPending("conv-1"))
	assert.Equal(t, 2, c.Pending("conv-1"))
}

func TestDecrementAndCloseIfZero(t *testing.T) {
	c := NewCoordinator()
	c.OpenOrReuse("conv-1")
	require.True(t, c.TryIncrementPending("conv-1"))
	require.True(t, c.TryIncrementPending("conv-1"))

	assert.False(t, c.DecrementAndCloseIfZero("conv-1"))
	assert.True(t, c.IsOpen("conv-1"))
	assert.Equal(t, 1, c.Pending("conv-1"))

	assert.True(t, c.DecrementAndCloseIfZero("conv-1"))
	assert.False(t, c.IsOpen("conv-1"))

	// Closed streams ignore further decrements.
	assert.False(t, c.DecrementAndCloseIfZero("conv-1"))
	assert.False(t, c.DecrementAndCloseIfZero("unknown"))
}

// A second prompt arriving while the first is still pending must ride
// the same stream: the count goes 0 -> 1 -> 2 -> 1 -> 0 and the stream
// stays open continuously until the final decrement.
func TestStreamStaysOpenAcrossOverlappingPrompts(t *testing.T) {
	c := NewCoordinator()

	first, opened := c.OpenOrReuse("conv-1")
	require.True(t, opened)
	require.True(t, c.TryIncrementPending("conv-1"))

	require.True(t, c.TryIncrementPending("conv-1"))
	assert.Equal(t, 2, c.Pending("conv-1"))

	assert.False(t, c.DecrementAndCloseIfZero("conv-1"))
	assert.True(t, c.IsOpen("conv-1"))

	reused, opened := c.OpenOrReuse("conv-1")
	assert.False(t, opened)
	assert.Equal(t, first, reused)

	assert.True(t, c.DecrementAndCloseIfZero("conv-1"))
	assert.False(t, c.IsOpen("conv-1"))
}

func TestOpenOrReuseReplacesClosedStream(t *testing.T) {
	c := NewCoordinator()

	first, _ := c.OpenOrReuse("conv-1")
	require.True(t, c.TryIncrementPending("conv-1"))
	require.True(t, c.DecrementAndCloseIfZero("conv-1"))

	second, opened := c.OpenOrReuse("conv-1")
	assert.True(t, opened)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.True(t, c.IsOpen("conv-1"))
	assert.Equal(t, 0, c.Pending("conv-1"))
}

func TestCancelIsIdempotent(t *testing.T) {
	c := NewCoordinator()
	c.OpenOrReuse("conv-1")
	require.True(t, c.TryIncrementPending("conv-1"))
	require.True(t, c.TryIncrementPending("conv-1"))

	c.Cancel("conv-1")
	assert.False(t, c.IsOpen("conv-1"))
	assert.Equal(t, 0, c.Pending("conv-1"))

	c.Cancel("conv-1")
	c.Cancel("unknown")
}

// Concurrent submitters racing the closing decrement must never lose a
// prompt: every successful increment is matched by exactly one closing
// or non-closing decrement, and the final state is fully closed.
func TestConcurrentIncrementDecrement(t *testing.T) {
	c := NewCoordinator()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !c.TryIncrementPending("conv-1") {
				c.OpenOrReuse("conv-1")
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, workers, accepted)
	require.Equal(t, workers, c.Pending("conv-1"))

	closes := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.DecrementAndCloseIfZero("conv-1") {
				mu.Lock()
				closes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, closes)
	assert.False(t, c.IsOpen("conv-1"))
	assert.Equal(t, 0, c.Pending("conv-1"))
}
