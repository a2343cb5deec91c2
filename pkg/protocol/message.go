package protocol

import (
	"strings"
	"time"
)

// localMessagePrefix marks message IDs minted client-side for optimistic
// appends. Server-assigned IDs never carry it, so an optimistic message can
// always be told apart from (and replaced by) the server's copy.
const localMessagePrefix = "local-"

// Message is a single entry in a ticket conversation. Immutable once created.
type Message struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsLocal reports whether the message was minted client-side and has not yet
// been confirmed by the backend.
func (m Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, localMessagePrefix)
}

// LocalMessageID builds an optimistic message ID from a random suffix.
func LocalMessageID(suffix string) string {
	return localMessagePrefix + suffix
}
