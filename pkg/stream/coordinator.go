package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/finchley/parley/pkg/logger"
)

// Handle identifies an open response stream for one conversation.
// Callers holding a handle enqueue onto the existing stream rather
// than opening a second one.
type Handle struct {
	ConversationID string
	OpenedAt       time.Time
}

// Coordinator tracks, per conversation, how many prompts are pending
// on the response stream and whether the stream is open. A stream
// stays open exactly while its pending count is above zero: every
// enqueue increments before any async work starts, so a matching
// decrement always exists.
//
// Locking is per conversation. The registry mutex only guards the map
// itself; all state transitions happen under the conversation entry's
// own lock, so unrelated conversations never contend.
type Coordinator struct {
	mu      sync.RWMutex
	streams map[string]*streamState
}

type streamState struct {
	mu      sync.Mutex
	handle  Handle
	pending int
	open    bool
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		streams: make(map[string]*streamState),
	}
}

// OpenOrReuse returns the conversation's stream handle, opening a new
// stream if none is open. The second return reports whether this call
// opened it.
func (c *Coordinator) OpenOrReuse(convID string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.streams[convID]; ok {
		entry.mu.Lock()
		open := entry.open
		handle := entry.handle
		entry.mu.Unlock()
		if open {
			return handle, false
		}
		// Closed but not yet removed from the registry; replace it.
	}

	entry := &streamState{
		handle: Handle{ConversationID: convID, OpenedAt: time.Now()},
		open:   true,
	}
	c.streams[convID] = entry
	logger.Debug("Opened stream for conversation %s", convID)
	return entry.handle, true
}

// TryIncrementPending increments the conversation's pending prompt
// count. It returns false, with no side effect, when no stream is
// open - the signal for the caller to open a new one.
func (c *Coordinator) TryIncrementPending(convID string) bool {
	c.mu.RLock()
	entry, ok := c.streams[convID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.open {
		return false
	}
	entry.pending++
	return true
}

// DecrementAndCloseIfZero decrements the pending count and, in the
// same critical section, closes the stream if the count reached zero.
// Folding the check into the decrement is what prevents the race
// between a new prompt arriving and the last pending one completing.
// Decrementing an unknown or already-closed conversation is a no-op.
func (c *Coordinator) DecrementAndCloseIfZero(convID string) bool {
	c.mu.RLock()
	entry, ok := c.streams[convID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	if !entry.open {
		entry.mu.Unlock()
		return false
	}
	entry.pending--
	if entry.pending < 0 {
		entry.mu.Unlock()
		// Only a locking defect can produce this; do not limp on.
		panic(fmt.Sprintf("stream: negative pending count for conversation %s", convID))
	}
	closed := entry.pending == 0
	if closed {
		entry.open = false
	}
	entry.mu.Unlock()

	if closed {
		c.remove(convID, entry)
		logger.Debug("Closed stream for conversation %s", convID)
	}
	return closed
}

// Cancel resets the pending count to zero and force-closes the
// conversation's stream. Calling it for an unknown conversation, or
// twice, is harmless.
func (c *Coordinator) Cancel(convID string) {
	c.mu.RLock()
	entry, ok := c.streams[convID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.pending = 0
	entry.open = false
	entry.mu.Unlock()

	c.remove(convID, entry)
	logger.Debug("Cancelled stream for conversation %s", convID)
}

// Pending reports the conversation's current pending prompt count.
func (c *Coordinator) Pending(convID string) int {
	c.mu.RLock()
	entry, ok := c.streams[convID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.pending
}

// IsOpen reports whether the conversation has an open stream.
func (c *Coordinator) IsOpen(convID string) bool {
	c.mu.RLock()
	entry, ok := c.streams[convID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.open
}

// remove drops the entry from the registry, but only if it is still
// the same entry: a new stream may have been opened for the id since.
func (c *Coordinator) remove(convID string, entry *streamState) {
	c.mu.Lock()
	if c.streams[convID] == entry {
		delete(c.streams, convID)
	}
	c.mu.Unlock()
}
