package history

import (
	"github.com/finchley/parley/pkg/chat"
	"github.com/finchley/parley/pkg/logger"
)

// TranscriptSink matches pipeline.TranscriptSink without importing it,
// keeping this package free of a dependency on the pipeline.
type TranscriptSink interface {
	MessageAppended(convID string, msg chat.Message)
	StreamingUpdated(convID string, msg chat.Message)
	MessageFinalized(convID string, msg chat.Message)
	TranscriptReplaced(convID string, msgs []chat.Message)
}

// Sink wraps another sink with write-through persistence: finalized
// turns are appended to the store and reconciled transcripts replace
// it wholesale. Streaming updates are never persisted.
type Sink struct {
	store *Store
	next  TranscriptSink
}

func NewSink(store *Store, next TranscriptSink) *Sink {
	return &Sink{store: store, next: next}
}

func (s *Sink) MessageAppended(convID string, msg chat.Message) {
	if msg.IsFinalized() {
		if err := s.store.Append(convID, msg); err != nil {
			logger.Error("Failed to persist message on conversation %s: %v", convID, err)
		}
	}
	if s.next != nil {
		s.next.MessageAppended(convID, msg)
	}
}

func (s *Sink) StreamingUpdated(convID string, msg chat.Message) {
	if s.next != nil {
		s.next.StreamingUpdated(convID, msg)
	}
}

func (s *Sink) MessageFinalized(convID string, msg chat.Message) {
	if err := s.store.Append(convID, msg); err != nil {
		logger.Error("Failed to persist finalized message on conversation %s: %v", convID, err)
	}
	if s.next != nil {
		s.next.MessageFinalized(convID, msg)
	}
}

func (s *Sink) TranscriptReplaced(convID string, msgs []chat.Message) {
	if err := s.store.Replace(convID, msgs); err != nil {
		logger.Error("Failed to persist transcript on conversation %s: %v", convID, err)
	}
	if s.next != nil {
		s.next.TranscriptReplaced(convID, msgs)
	}
}
