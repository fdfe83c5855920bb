package model

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Messages are values; once appended to
// a Conversation they are never edited.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ErrorMessage is the UI-facing projection of a failed request.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Conversation is the ordered history, oldest first. It only grows by
// Append, shrinks by DropTrailingAssistant, or is emptied by Clear.
type Conversation struct {
	ID        string
	messages  []Message
	UpdatedAt time.Time
}

func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:        id,
		messages:  make([]Message, 0, 8),
		UpdatedAt: time.Now(),
	}
}

func (c *Conversation) Append(m Message) {
	c.messages = append(c.messages, m)
	c.UpdatedAt = time.Now()
}

// Replace swaps in a whole history, used when restoring from the store.
func (c *Conversation) Replace(msgs []Message) {
	c.messages = append(make([]Message, 0, len(msgs)), msgs...)
	c.UpdatedAt = time.Now()
}

func (c *Conversation) Len() int { return len(c.messages) }

// Last returns the most recent message and false when empty.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// DropTrailingAssistant removes the last message if it is an assistant
// turn and reports whether it did.
func (c *Conversation) DropTrailingAssistant() bool {
	last, ok := c.Last()
	if !ok || last.Role != RoleAssistant {
		return false
	}
	c.messages = c.messages[:len(c.messages)-1]
	c.UpdatedAt = time.Now()
	return true
}

func (c *Conversation) Clear() {
	c.messages = c.messages[:0]
	c.UpdatedAt = time.Now()
}

// Messages returns a copy; callers may keep it across later mutations.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}
