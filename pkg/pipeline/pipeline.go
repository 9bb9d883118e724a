package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finchley/parley/pkg/chat"
	"github.com/finchley/parley/pkg/logger"
	"github.com/finchley/parley/pkg/stream"
)

// Pipeline is the single entry point for every message producer: local
// senders, the generation backend, remote broadcast receipts, and
// resume operations. It owns deduplication and finalization state and
// funnels all writes through one serialized gateway per conversation,
// so producers never mutate shared maps directly.
type Pipeline struct {
	coordinator *stream.Coordinator
	buffer      stream.Buffer
	sink        TranscriptSink

	mu    sync.RWMutex
	convs map[string]*conversation
}

type conversation struct {
	mu sync.Mutex

	// finalized holds the ids that have completed their one-time
	// transition. Checked before any re-emission.
	finalized map[string]bool

	// pendingLocal correlates a local provisional id with the
	// canonical id the server later assigns.
	pendingLocal map[string]string

	history     []chat.Message
	streaming   *chat.Message
	streamingID string
}

// New creates a pipeline over the given coordinator and buffer,
// emitting into sink. A nil sink discards output.
func New(coordinator *stream.Coordinator, buffer stream.Buffer, sink TranscriptSink) *Pipeline {
	if sink == nil {
		sink = NopSink{}
	}
	return &Pipeline{
		coordinator: coordinator,
		buffer:      buffer,
		sink:        sink,
		convs:       make(map[string]*conversation),
	}
}

// Coordinator exposes the stream coordinator for producer adapters
// that need to observe stream lifecycle.
func (p *Pipeline) Coordinator() *stream.Coordinator {
	return p.coordinator
}

// SubmitLocal records a locally sent prompt optimistically, before the
// server assigns its canonical id, and returns the provisional id. The
// pending count is incremented before any async work starts, opening a
// new stream when none is open.
func (p *Pipeline) SubmitLocal(ctx context.Context, convID, content, senderID string) (string, error) {
	provisionalID := uuid.New().String()

	msg := chat.NewUserMessageFrom(senderID, content)
	msg.ID = provisionalID
	msg.ConversationID = convID
	msg.Lifecycle = chat.LifecyclePending

	// Increment-before-work: open (or reuse) the stream and claim a
	// pending slot before the prompt leaves this function.
	for !p.coordinator.TryIncrementPending(convID) {
		p.coordinator.OpenOrReuse(convID)
	}

	if _, err := p.buffer.Append(ctx, convID, chat.Chunk{
		MessageID: provisionalID,
		Content:   msg.Content,
		Sender:    &chat.SenderInfo{SenderID: senderID},
	}); err != nil {
		// The prompt never made it onto the stream, so the slot it
		// claimed must be released or the count can never reach zero.
		p.coordinator.DecrementAndCloseIfZero(convID)
		return "", err
	}

	conv := p.conversation(convID)
	conv.mu.Lock()
	conv.pendingLocal[provisionalID] = ""
	conv.mu.Unlock()

	p.sink.MessageAppended(convID, msg)
	logger.Debug("Submitted local prompt %s on conversation %s", provisionalID, convID)
	return provisionalID, nil
}

// BindCanonical rebinds a provisional local id to the canonical id the
// server assigned. Finalization state follows the rebinding.
func (p *Pipeline) BindCanonical(convID, provisionalID, canonicalID string) {
	conv := p.conversation(convID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	if _, ok := conv.pendingLocal[provisionalID]; !ok {
		return
	}
	conv.pendingLocal[provisionalID] = canonicalID
	if conv.finalized[provisionalID] {
		delete(conv.finalized, provisionalID)
		conv.finalized[canonicalID] = true
	}
	for i := range conv.history {
		if conv.history[i].ID == provisionalID {
			conv.history[i].ID = canonicalID
		}
	}
	delete(conv.pendingLocal, provisionalID)
}

// Accumulate applies one streaming delta from the generation backend.
// The delta is buffered for resume and folded onto the conversation's
// in-progress turn. Deltas for an id that already finalized are
// absorbed as no-ops.
func (p *Pipeline) Accumulate(ctx context.Context, convID, id, content, reasoning string, toolCalls []chat.ToolCall) error {
	conv := p.conversation(convID)

	conv.mu.Lock()
	if id != "" && conv.finalized[id] {
		conv.mu.Unlock()
		return nil
	}
	conv.mu.Unlock()

	if _, err := p.buffer.Append(ctx, convID, chat.Chunk{
		MessageID: id,
		Content:   content,
		Reasoning: reasoning,
		ToolCalls: toolCalls,
	}); err != nil {
		return err
	}

	conv.mu.Lock()
	emit, finalizedPrev := conv.applyDelta(convID, id, content, reasoning, toolCalls)
	conv.mu.Unlock()

	if finalizedPrev != nil {
		p.sink.MessageFinalized(convID, *finalizedPrev)
	}
	if emit != nil {
		p.sink.StreamingUpdated(convID, *emit)
	}
	return nil
}

// ApplyRemote folds a chunk received from the broadcast transport. The
// origin instance already buffered it, so only the in-memory
// accumulation state advances here. Ordering is recovered from the
// chunk's sequence number by the transport, not assumed from delivery.
func (p *Pipeline) ApplyRemote(convID string, chunk chat.Chunk) {
	conv := p.conversation(convID)

	if chunk.IsUserTurn() {
		msg := chat.NewUserMessageFrom(chunk.Sender.SenderID, chunk.Content)
		msg.ID = chunk.MessageID
		msg.ConversationID = convID

		conv.mu.Lock()
		if chunk.MessageID != "" && conv.finalized[chunk.MessageID] {
			conv.mu.Unlock()
			return
		}
		if chunk.MessageID != "" {
			conv.finalized[chunk.MessageID] = true
		}
		conv.history = append(conv.history, msg)
		conv.mu.Unlock()

		p.sink.MessageAppended(convID, msg)
		return
	}

	if chunk.IsTerminal() {
		p.finalize(convID, chunk.MessageID, chunk.Err)
		return
	}

	conv.mu.Lock()
	if chunk.MessageID != "" && conv.finalized[chunk.MessageID] {
		conv.mu.Unlock()
		return
	}
	emit, finalizedPrev := conv.applyDelta(convID, chunk.MessageID, chunk.Content, chunk.Reasoning, chunk.ToolCalls)
	conv.mu.Unlock()

	if finalizedPrev != nil {
		p.sink.MessageFinalized(convID, *finalizedPrev)
	}
	if emit != nil {
		p.sink.StreamingUpdated(convID, *emit)
	}
}

// Finalize transitions the turn to its immutable form, exactly once.
// Racing or repeated calls for the same id are no-ops. An empty id
// finalizes the conversation's current streaming turn. The terminal
// marker is buffered and the stream's pending count is released.
func (p *Pipeline) Finalize(ctx context.Context, convID, id string) error {
	return p.finalizeBuffered(ctx, convID, id, "")
}

// FinalizeWithError finalizes the affected id carrying the backend's
// error. Other ids on the same conversation are untouched.
func (p *Pipeline) FinalizeWithError(ctx context.Context, convID, id, errText string) error {
	return p.finalizeBuffered(ctx, convID, id, errText)
}

func (p *Pipeline) finalizeBuffered(ctx context.Context, convID, id, errText string) error {
	conv := p.conversation(convID)
	conv.mu.Lock()
	if id == "" {
		id = conv.streamingID
	}
	already := id != "" && conv.finalized[id]
	conv.mu.Unlock()

	if already {
		return nil
	}

	// A buffer failure must not block the transition: the in-memory
	// state still finalizes and the pending slot is still released,
	// otherwise the stream can never close. Resume will see the turn
	// without its terminal marker, which it already tolerates.
	_, appendErr := p.buffer.Append(ctx, convID, chat.Chunk{
		MessageID: id,
		Done:      errText == "",
		Err:       errText,
	})

	p.finalize(convID, id, errText)
	p.coordinator.DecrementAndCloseIfZero(convID)
	return appendErr
}

// finalize performs the state transition without touching the buffer
// or coordinator. Shared by the local and remote paths.
func (p *Pipeline) finalize(convID, id, errText string) {
	conv := p.conversation(convID)

	conv.mu.Lock()
	if id == "" {
		id = conv.streamingID
	}
	if id != "" && conv.finalized[id] {
		conv.mu.Unlock()
		return
	}

	var final *chat.Message
	if conv.streaming != nil && (id == "" || conv.streaming.ID == id || conv.streaming.ID == "") {
		msg := *conv.streaming
		if id != "" {
			msg.ID = id
		}
		msg.Lifecycle = chat.LifecycleFinalized
		msg.Err = errText
		conv.streaming = nil
		conv.streamingID = ""
		conv.history = append(conv.history, msg)
		final = &msg
	} else if id != "" {
		// Terminal signal for a turn we never saw a delta for; record
		// the transition so later deltas for the id are absorbed.
		if errText != "" {
			msg := chat.Message{
				ID:             id,
				ConversationID: convID,
				Role:           chat.RoleAssistant,
				Lifecycle:      chat.LifecycleFinalized,
				Err:            errText,
				CreatedAt:      time.Now(),
			}
			conv.history = append(conv.history, msg)
			final = &msg
		}
	}
	if id != "" {
		conv.finalized[id] = true
	}
	conv.mu.Unlock()

	if final != nil {
		p.sink.MessageFinalized(convID, *final)
		logger.Debug("Finalized message %s on conversation %s", id, convID)
	}
}

// LoadHistory replaces the conversation's known-finalized set
// wholesale with the persisted transcript.
func (p *Pipeline) LoadHistory(convID string, messages []chat.Message) {
	conv := p.conversation(convID)

	conv.mu.Lock()
	conv.history = make([]chat.Message, len(messages))
	copy(conv.history, messages)
	conv.finalized = make(map[string]bool, len(messages))
	for _, msg := range messages {
		if msg.ID != "" {
			conv.finalized[msg.ID] = true
		}
	}
	conv.mu.Unlock()
}

// ResumeFromBuffer reconciles a buffer snapshot against known history
// and emits the merged transcript as one atomic replace action,
// followed by the still-streaming turn, if any. Two consecutive
// resumes with unchanged inputs produce identical output and no
// duplicate finalized messages downstream.
func (p *Pipeline) ResumeFromBuffer(convID string, snapshot []chat.Chunk, pending *chat.Message, currentID string) {
	conv := p.conversation(convID)

	conv.mu.Lock()
	result := chat.Reconcile(snapshot, conv.history, pending)

	conv.history = result.Merged
	conv.finalized = make(map[string]bool, len(result.Merged))
	for _, msg := range result.Merged {
		if msg.ID != "" {
			conv.finalized[msg.ID] = true
		}
	}

	streaming := result.Streaming
	if streaming != nil && streaming.ID != "" && conv.finalized[streaming.ID] {
		streaming = nil
	}
	conv.streaming = streaming
	if streaming != nil {
		conv.streamingID = streaming.ID
		if conv.streamingID == "" {
			conv.streamingID = currentID
		}
	} else {
		conv.streamingID = ""
	}

	merged := make([]chat.Message, len(result.Merged))
	copy(merged, result.Merged)
	var emit *chat.Message
	if streaming != nil {
		copied := *streaming
		emit = &copied
	}
	conv.mu.Unlock()

	p.sink.TranscriptReplaced(convID, merged)
	if emit != nil {
		p.sink.StreamingUpdated(convID, *emit)
	}
	logger.Debug("Resumed conversation %s: %d merged, streaming=%v", convID, len(merged), emit != nil)
}

// Reset clears all per-conversation pipeline state.
func (p *Pipeline) Reset(convID string) {
	p.mu.Lock()
	delete(p.convs, convID)
	p.mu.Unlock()
	p.coordinator.Cancel(convID)
}

// History returns a copy of the conversation's known transcript.
func (p *Pipeline) History(convID string) []chat.Message {
	conv := p.conversation(convID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	out := make([]chat.Message, len(conv.history))
	copy(out, conv.history)
	return out
}

// applyDelta folds one delta onto the in-progress turn. Caller holds
// the conversation lock. Returns the updated streaming copy to emit
// and, when an id change closed out the previous turn, that turn.
func (c *conversation) applyDelta(convID, id, content, reasoning string, toolCalls []chat.ToolCall) (emit, finalizedPrev *chat.Message) {
	if c.streaming != nil && id != "" && c.streaming.ID != "" && c.streaming.ID != id {
		prev := *c.streaming
		prev.Lifecycle = chat.LifecycleFinalized
		c.history = append(c.history, prev)
		if prev.ID != "" {
			c.finalized[prev.ID] = true
		}
		c.streaming = nil
		finalizedPrev = &prev
	}

	if c.streaming == nil {
		c.streaming = &chat.Message{
			ConversationID: convID,
			Role:           chat.RoleAssistant,
			Lifecycle:      chat.LifecycleStreaming,
			CreatedAt:      time.Now(),
		}
	}
	if id != "" {
		c.streaming.ID = id
		c.streamingID = id
	}
	c.streaming.Content += content
	c.streaming.Reasoning += reasoning
	if len(toolCalls) > 0 {
		c.streaming.ToolCalls = append(c.streaming.ToolCalls, toolCalls...)
	}

	copied := *c.streaming
	return &copied, finalizedPrev
}

// conversation returns the per-conversation state, creating it on
// first use. Unrelated conversations never share a lock.
func (p *Pipeline) conversation(convID string) *conversation {
	p.mu.RLock()
	conv, ok := p.convs[convID]
	p.mu.RUnlock()
	if ok {
		return conv
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conv, ok := p.convs[convID]; ok {
		return conv
	}
	conv = &conversation{
		finalized:    make(map[string]bool),
		pendingLocal: make(map[string]string),
	}
	p.convs[convID] = conv
	return conv
}
