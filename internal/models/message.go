package models

import "github.com/google/uuid"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation. IDs are opaque; ordering is
// insertion order within the history array.
type ChatMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessageID mints an opaque message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// MemoryDigest is the per-turn summary of prior conversation. It is derived,
// never persisted.
type MemoryDigest struct {
	Summary string `json:"summary"`
}
