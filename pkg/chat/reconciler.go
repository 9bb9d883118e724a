package chat

// MergeResult is the outcome of reconciling a buffer snapshot against
// persisted history: one deduplicated, order-preserving transcript plus
// the turn still streaming, if any. It is produced per resume and
// consumed once.
type MergeResult struct {
	Merged    []Message
	Streaming *Message
}

// Reconcile merges a conversation's buffered stream against its
// persisted history. Both inputs are snapshots; the function is pure,
// so two resumes over identical inputs produce identical results.
//
// Buffered turns whose id already appears in history are anchors: they
// are emitted at their history slot, enriched with any reasoning or
// tool-call data the stored entry lacks. New turns keep their buffer
// order relative to the nearest preceding anchor. History entries that
// never appeared in the buffer pass through unchanged. The trailing
// in-progress turn is returned separately, stripped when its content
// exactly matches output already persisted.
func Reconcile(buffer []Chunk, history []Message, pending *Message) MergeResult {
	acc := AccumulateAll(buffer)

	historyIdx := make(map[string]int, len(history))
	for i, msg := range history {
		if msg.ID != "" {
			historyIdx[msg.ID] = i
		}
	}

	// Classify completed turns: anchors against history, new turns
	// bucketed by the anchor that precedes them in the buffer.
	anchored := make(map[string]Message)
	following := make(map[string][]Message)
	var leading []Message
	var lastAnchorID string
	seen := make(map[string]bool)

	for _, turn := range acc.Completed {
		if turn.ID != "" {
			if _, ok := historyIdx[turn.ID]; ok {
				anchored[turn.ID] = turn
				lastAnchorID = turn.ID
				continue
			}
			// A duplicate delivery of the same new turn counts once.
			if seen[turn.ID] {
				continue
			}
			seen[turn.ID] = true
		}
		if lastAnchorID == "" {
			leading = append(leading, turn)
		} else {
			following[lastAnchorID] = append(following[lastAnchorID], turn)
		}
	}

	// Turns after the last anchor trail the whole transcript. Without
	// any anchor the buffer holds only unseen turns, which likewise
	// belong after everything already persisted.
	var trailing []Message
	if lastAnchorID == "" {
		trailing = leading
		leading = nil
	} else {
		trailing = following[lastAnchorID]
		delete(following, lastAnchorID)
	}

	firstAnchorSlot := -1
	for id := range anchored {
		if slot := historyIdx[id]; firstAnchorSlot == -1 || slot < firstAnchorSlot {
			firstAnchorSlot = slot
		}
	}

	merged := make([]Message, 0, len(history)+len(acc.Completed)+1)
	for i, entry := range history {
		if i == firstAnchorSlot {
			merged = append(merged, leading...)
		}
		if buffered, ok := anchored[entry.ID]; ok && entry.ID != "" {
			merged = append(merged, enrich(entry, buffered))
			merged = append(merged, following[entry.ID]...)
			continue
		}
		merged = append(merged, entry)
	}
	// The prompt was still pending when the stream went down, so any
	// trailing new turns were generated after it arrived: it belongs
	// before them, not after its own reply.
	if pending != nil {
		if _, inHistory := historyIdx[pending.ID]; !inHistory && !seen[pending.ID] {
			merged = append(merged, *pending)
		}
	}
	merged = append(merged, trailing...)

	// A resume can observe a turn whose output was already fully
	// persisted before the stream closed. Exact content equality is the
	// guard; partial overlaps are intentionally left alone.
	streaming := acc.Current
	if streaming != nil && streaming.Content != "" {
		for _, entry := range history {
			if entry.Content == streaming.Content {
				streaming = nil
				break
			}
		}
	}

	return MergeResult{Merged: merged, Streaming: streaming}
}

// enrich backfills onto a stored history entry the fields the buffered
// copy of the same turn carries but the store dropped. Persisted
// content always wins over the buffered version.
func enrich(stored, buffered Message) Message {
	if stored.Reasoning == "" && buffered.Reasoning != "" {
		stored.Reasoning = buffered.Reasoning
	}
	if len(stored.ToolCalls) == 0 && len(buffered.ToolCalls) > 0 {
		stored.ToolCalls = make([]ToolCall, len(buffered.ToolCalls))
		copy(stored.ToolCalls, buffered.ToolCalls)
	}
	return stored
}
