package transport

import (
	"sync"

	"github.com/finchley/parley/pkg/chat"
)

// reorderWindow releases chunks to its handler in sequence order. The
// first chunk observed sets the baseline, later gaps hold successors
// back until the missing chunk arrives. Chunks at or below the
// already-delivered sequence number are duplicates and are dropped.
// There is no timeout: a permanently missing chunk is the resume
// path's problem, not the live path's.
type reorderWindow struct {
	mu      sync.Mutex
	handler func(chat.Chunk)
	lastSeq int64
	started bool
	held    map[int64]chat.Chunk
}

func newReorderWindow(handler func(chat.Chunk)) *reorderWindow {
	return &reorderWindow{
		handler: handler,
		held:    make(map[int64]chat.Chunk),
	}
}

func (w *reorderWindow) accept(chunk chat.Chunk) {
	w.mu.Lock()

	if !w.started {
		w.started = true
		w.lastSeq = chunk.Seq
		w.mu.Unlock()
		w.handler(chunk)
		w.drain()
		return
	}

	if chunk.Seq <= w.lastSeq {
		w.mu.Unlock()
		return
	}

	if chunk.Seq != w.lastSeq+1 {
		w.held[chunk.Seq] = chunk
		w.mu.Unlock()
		return
	}

	w.lastSeq = chunk.Seq
	w.mu.Unlock()
	w.handler(chunk)
	w.drain()
}

// drain releases any held chunks that have become contiguous.
func (w *reorderWindow) drain() {
	for {
		w.mu.Lock()
		next, ok := w.held[w.lastSeq+1]
		if !ok {
			w.mu.Unlock()
			return
		}
		delete(w.held, next.Seq)
		w.lastSeq = next.Seq
		w.mu.Unlock()
		w.handler(next)
	}
}
