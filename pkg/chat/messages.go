package chat

import (
	"strings"
	"time"
)

// Lifecycle tracks where a message sits between creation and finalization.
type Lifecycle string

const (
	LifecyclePending   Lifecycle = "pending"
	LifecycleStreaming Lifecycle = "streaming"
	LifecycleFinalized Lifecycle = "finalized"
)

// Message is one logical turn in a conversation: a user prompt or one
// complete assistant reply. Once finalized it is treated as immutable.
type Message struct {
	ID             string     `json:"id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Reasoning      string     `json:"reasoning,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	SenderID       string     `json:"sender_id,omitempty"`
	Lifecycle      Lifecycle  `json:"lifecycle,omitempty"`
	Err            string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type ToolCall struct {
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func NewUserMessage(content string) Message {
	return Message{
		Role:      RoleUser,
		Content:   strings.TrimSpace(content),
		Lifecycle: LifecycleFinalized,
		CreatedAt: time.Now(),
	}
}

func NewUserMessageFrom(senderID, content string) Message {
	msg := NewUserMessage(content)
	msg.SenderID = senderID
	return msg
}

func NewAssistantMessage(content string) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		Lifecycle: LifecycleFinalized,
		CreatedAt: time.Now(),
	}
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) IsFinalized() bool {
	return m.Lifecycle == LifecycleFinalized
}

func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// IsEmpty reports whether the message carries no content at all. A turn
// with only reasoning or tool calls is not empty.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && m.Reasoning == "" && len(m.ToolCalls) == 0
}

func (m Message) WithID(id string) Message {
	m.ID = id
	return m
}

func (m Message) WithConversation(convID string) Message {
	m.ConversationID = convID
	return m
}
