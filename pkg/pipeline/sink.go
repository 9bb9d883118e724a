package pipeline

import "github.com/finchley/parley/pkg/chat"

// TranscriptSink receives the pipeline's view of each conversation's
// transcript. Implementations render, forward, or record; they must
// not call back into the pipeline from inside a callback.
type TranscriptSink interface {
	// MessageAppended delivers one new message (an optimistic local
	// prompt, or a remote user turn).
	MessageAppended(convID string, msg chat.Message)

	// StreamingUpdated delivers the current in-progress turn after a
	// delta was applied. Content is cumulative, not incremental.
	StreamingUpdated(convID string, msg chat.Message)

	// MessageFinalized delivers a turn's one-time transition to its
	// immutable form.
	MessageFinalized(convID string, msg chat.Message)

	// TranscriptReplaced delivers a whole reconciled transcript as one
	// atomic action. Emitted on resume; never split per message, so it
	// cannot interleave with concurrently arriving chunks.
	TranscriptReplaced(convID string, msgs []chat.Message)
}

// NopSink discards everything. Useful as a default.
type NopSink struct{}

func (NopSink) MessageAppended(string, chat.Message)  {}
func (NopSink) StreamingUpdated(string, chat.Message) {}
func (NopSink) MessageFinalized(string, chat.Message) {}
func (NopSink) TranscriptReplaced(string, []chat.Message) {}

var _ TranscriptSink = NopSink{}
