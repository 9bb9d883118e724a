package backend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finchley/parley/pkg/chat"
)

// ScriptedGenerator replays canned replies, split into word-sized
// deltas. It backs offline runs and tests that need a deterministic
// producer.
type ScriptedGenerator struct {
	Replies []string
	// Delay between deltas; zero streams as fast as the consumer reads.
	Delay time.Duration

	mu   sync.Mutex
	next int
}

// Generate streams the next canned reply, cycling when exhausted.
// Safe for concurrent calls; each call claims one reply.
func (g *ScriptedGenerator) Generate(ctx context.Context, messages []chat.Message) (<-chan chat.Chunk, error) {
	reply := "ok"
	g.mu.Lock()
	if len(g.Replies) > 0 {
		reply = g.Replies[g.next%len(g.Replies)]
		g.next++
	}
	g.mu.Unlock()

	out := make(chan chat.Chunk, 100)
	messageID := uuid.New().String()

	go func() {
		defer close(out)

		words := strings.SplitAfter(reply, " ")
		for _, word := range words {
			if g.Delay > 0 {
				select {
				case <-time.After(g.Delay):
				case <-ctx.Done():
					out <- chat.Chunk{MessageID: messageID, Err: ctx.Err().Error()}
					return
				}
			}
			select {
			case out <- chat.Chunk{MessageID: messageID, Content: word, Timestamp: time.Now()}:
			case <-ctx.Done():
				out <- chat.Chunk{MessageID: messageID, Err: ctx.Err().Error()}
				return
			}
		}
		out <- chat.Chunk{MessageID: messageID, Done: true, Timestamp: time.Now()}
	}()

	return out, nil
}

var _ Generator = (*ScriptedGenerator)(nil)
