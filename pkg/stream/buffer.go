package stream

import (
	"context"
	"sync"
	"time"

	"github.com/finchley/parley/pkg/chat"
)

// Buffer is a per-conversation ordered log of stream chunks. Append
// assigns the next sequence number atomically; Snapshot returns an
// ordered copy for a resuming viewer. Eviction and retention belong to
// the backing store's configuration, not to this interface.
type Buffer interface {
	Append(ctx context.Context, convID string, chunk chat.Chunk) (int64, error)
	Snapshot(ctx context.Context, convID string) ([]chat.Chunk, error)
	Clear(ctx context.Context, convID string) error
}

// Stats summarises one conversation's buffered stream.
type Stats struct {
	ConversationID string
	ChunkCount     int
	ContentBytes   int
	FirstAppend    time.Time
	LastAppend     time.Time
}

// MemoryBuffer keeps each conversation's log in process memory. Each
// conversation owns its own lock; the registry lock only guards the
// map, so appends on unrelated conversations never serialize against
// each other.
type MemoryBuffer struct {
	mu   sync.RWMutex
	logs map[string]*conversationLog
}

type conversationLog struct {
	mu      sync.Mutex
	nextSeq int64
	chunks  []chat.Chunk
	stats   Stats
}

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{
		logs: make(map[string]*conversationLog),
	}
}

// Append assigns the next sequence number and stores the chunk.
// Sequence numbers are strictly increasing per conversation and never
// reused, even across Clear.
func (b *MemoryBuffer) Append(ctx context.Context, convID string, chunk chat.Chunk) (int64, error) {
	log := b.log(convID)

	log.mu.Lock()
	defer log.mu.Unlock()

	log.nextSeq++
	chunk.Seq = log.nextSeq
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}
	log.chunks = append(log.chunks, chunk)

	log.stats.ChunkCount++
	log.stats.ContentBytes += len(chunk.Content) + len(chunk.Reasoning)
	if log.stats.FirstAppend.IsZero() {
		log.stats.FirstAppend = chunk.Timestamp
	}
	log.stats.LastAppend = chunk.Timestamp

	return chunk.Seq, nil
}

// Snapshot returns an ordered copy of the conversation's buffered
// chunks. The copy always reflects append order.
func (b *MemoryBuffer) Snapshot(ctx context.Context, convID string) ([]chat.Chunk, error) {
	b.mu.RLock()
	log, ok := b.logs[convID]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	out := make([]chat.Chunk, len(log.chunks))
	copy(out, log.chunks)
	return out, nil
}

// Clear drops the conversation's buffered chunks. The sequence counter
// survives so later appends keep the per-conversation total order.
func (b *MemoryBuffer) Clear(ctx context.Context, convID string) error {
	b.mu.RLock()
	log, ok := b.logs[convID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	log.mu.Lock()
	log.chunks = nil
	log.stats = Stats{ConversationID: convID}
	log.mu.Unlock()
	return nil
}

// Stats reports the conversation's buffer statistics.
func (b *MemoryBuffer) Stats(convID string) (Stats, bool) {
	b.mu.RLock()
	log, ok := b.logs[convID]
	b.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	stats := log.stats
	stats.ConversationID = convID
	return stats, true
}

func (b *MemoryBuffer) log(convID string) *conversationLog {
	b.mu.RLock()
	log, ok := b.logs[convID]
	b.mu.RUnlock()
	if ok {
		return log
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if log, ok := b.logs[convID]; ok {
		return log
	}
	log = &conversationLog{stats: Stats{ConversationID: convID}}
	b.logs[convID] = log
	return log
}
