// Package history persists finalized transcripts. It is the
// pipeline's external persistence collaborator: the pipeline hands it
// finalized turns for write-through and reads knownHistory back on
// demand; it never sees partial chunks.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/finchley/parley/pkg/chat"
)

// Store keeps one JSON file per conversation under a base directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates the base directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

type transcript struct {
	Messages []chat.Message `json:"messages"`
}

// Load returns the conversation's persisted transcript. A conversation
// that was never saved loads as empty, not as an error.
func (s *Store) Load(convID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(convID)
}

// Replace overwrites the conversation's transcript wholesale.
func (s *Store) Replace(convID string, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(convID, messages)
}

// Append adds one finalized message to the conversation's transcript.
func (s *Store) Append(convID string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.read(convID)
	if err != nil {
		return err
	}
	return s.write(convID, append(messages, msg))
}

// Clear removes the conversation's transcript.
func (s *Store) Clear(convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(convID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) read(convID string) ([]chat.Message, error) {
	data, err := os.ReadFile(s.path(convID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var t transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	return t.Messages, nil
}

func (s *Store) write(convID string, messages []chat.Message) error {
	data, err := json.MarshalIndent(transcript{Messages: messages}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := os.WriteFile(s.path(convID), data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

func (s *Store) path(convID string) string {
	// Conversation ids are uuids in practice, but never trust them as
	// path components.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, convID)
	return filepath.Join(s.dir, safe+".json")
}
