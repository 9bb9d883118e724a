package chat

import "time"

// SenderInfo identifies the human author of a chunk. Its presence marks
// the chunk as a complete user turn rather than an assistant delta.
type SenderInfo struct {
	SenderID string `json:"sender_id"`
}

// Chunk is a single message on a conversation's response stream: an
// incremental assistant delta, a completion or error marker, or a
// whole user prompt echoed onto the stream. Chunks arrive from the
// transport in any order; Seq recovers the total order per
// conversation.
type Chunk struct {
	Seq       int64       `json:"seq"`
	MessageID string      `json:"message_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Reasoning string      `json:"reasoning,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Done      bool        `json:"done,omitempty"`
	Err       string      `json:"error,omitempty"`
	Sender    *SenderInfo `json:"sender,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// IsUserTurn reports whether the chunk is an already-complete user
// prompt. User turns are never merged into the assistant accumulator.
func (c Chunk) IsUserTurn() bool {
	return c.Sender != nil
}

// IsTerminal reports whether the chunk ends the in-progress turn.
func (c Chunk) IsTerminal() bool {
	return c.Done || c.Err != ""
}

// IsEmpty reports whether the chunk carries neither payload nor any
// marker. Such chunks are malformed and skipped during accumulation.
func (c Chunk) IsEmpty() bool {
	return c.Content == "" && c.Reasoning == "" && len(c.ToolCalls) == 0 &&
		c.MessageID == "" && !c.IsTerminal() && c.Sender == nil
}
