package chat

// Accumulation is the result of folding stream chunks into logical
// turns: the turns completed so far, in stream order, plus at most one
// trailing in-progress turn.
type Accumulation struct {
	Completed []Message
	Current   *Message
}

// Accumulate folds one chunk into an accumulation. It is a pure
// function: the inputs are never mutated, so replaying the same chunk
// sequence always yields the same result. That property is what makes
// resume safe to re-run in full against a fresh buffer snapshot.
//
// Rules:
//   - a Sender-bearing chunk is a complete user turn and is emitted
//     immediately, without touching the in-progress assistant turn
//   - content/reasoning/tool-call deltas concatenate onto the matching
//     field of the in-progress turn
//   - a change of message id, or a completion/error marker, finalizes
//     the in-progress turn (if non-empty) and starts a fresh one
//   - malformed chunks (no payload, no markers) are skipped
func Accumulate(acc Accumulation, chunk Chunk) Accumulation {
	if chunk.IsEmpty() {
		return acc
	}

	if chunk.IsUserTurn() {
		user := NewUserMessageFrom(chunk.Sender.SenderID, chunk.Content)
		user.ID = chunk.MessageID
		if !chunk.Timestamp.IsZero() {
			user.CreatedAt = chunk.Timestamp
		}
		return Accumulation{
			Completed: appendMessage(acc.Completed, user),
			Current:   cloneMessage(acc.Current),
		}
	}

	completed := acc.Completed
	current := cloneMessage(acc.Current)

	// A new message id closes out whatever was in progress.
	if current != nil && chunk.MessageID != "" && current.ID != "" && chunk.MessageID != current.ID {
		if !current.IsEmpty() {
			completed = appendMessage(completed, finalized(*current))
		}
		current = nil
	}

	if current == nil {
		current = &Message{
			Role:      RoleAssistant,
			Lifecycle: LifecycleStreaming,
			CreatedAt: chunk.Timestamp,
		}
	}

	if chunk.MessageID != "" {
		current.ID = chunk.MessageID
	}
	current.Content += chunk.Content
	current.Reasoning += chunk.Reasoning
	if len(chunk.ToolCalls) > 0 {
		calls := make([]ToolCall, 0, len(current.ToolCalls)+len(chunk.ToolCalls))
		calls = append(calls, current.ToolCalls...)
		calls = append(calls, chunk.ToolCalls...)
		current.ToolCalls = calls
	}

	if chunk.IsTerminal() {
		current.Err = chunk.Err
		// An empty turn that terminates is discarded silently.
		if !current.IsEmpty() || current.Err != "" {
			completed = appendMessage(completed, finalized(*current))
		}
		current = nil
	}

	return Accumulation{Completed: completed, Current: current}
}

// AccumulateAll folds an ordered chunk sequence from scratch.
func AccumulateAll(chunks []Chunk) Accumulation {
	var acc Accumulation
	for _, chunk := range chunks {
		acc = Accumulate(acc, chunk)
	}
	return acc
}

func finalized(msg Message) Message {
	msg.Lifecycle = LifecycleFinalized
	return msg
}

func appendMessage(messages []Message, msg Message) []Message {
	out := make([]Message, len(messages)+1)
	copy(out, messages)
	out[len(messages)] = msg
	return out
}

func cloneMessage(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		copy(clone.ToolCalls, msg.ToolCalls)
	}
	return &clone
}
