package models

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TimestampFormat is the layout used for ChatMessage.Timestamp.
const TimestampFormat = time.RFC3339Nano

type ChatMessage struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewMessage stamps a message with the current UTC time.
func NewMessage(role Role, content string) ChatMessage {
	return ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(TimestampFormat),
	}
}

// SessionState is the per-browser-session transcript plus the active image.
type SessionState struct {
	ID           string        `json:"id"`
	Messages     []ChatMessage `json:"messages"`
	CurrentImage string        `json:"current_image,omitempty"` // filesystem path, empty when unset
}

// HasImage reports whether an image has been uploaded since the last clear.
func (s *SessionState) HasImage() bool {
	return s.CurrentImage != ""
}

// Clone returns a deep copy so callers can't mutate stored history.
func (s *SessionState) Clone() *SessionState {
	msgs := make([]ChatMessage, len(s.Messages))
	copy(msgs, s.Messages)
	return &SessionState{
		ID:           s.ID,
		Messages:     msgs,
		CurrentImage: s.CurrentImage,
	}
}
