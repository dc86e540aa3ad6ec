// Package model defines the shared data types of the messaging core:
// users, connections, messages, conversation summaries and the wire
// events exchanged between gateway and clients.
package model

import (
	"sort"
	"strings"
	"time"
)

// User is a registered account. Profile fields may change after
// registration; the id never does.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name"`
	Institution string    `json:"institution,omitempty"`
	Department  string    `json:"department,omitempty"`
	JoinedAt    time.Time `json:"joinedDate,omitempty"`
	LastLogin   time.Time `json:"lastLogin,omitempty"`
}

// MessageType distinguishes plain text from dataset-item shares. The
// type is always carried explicitly; clients must never reconstruct it
// from the content text.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeMaterial MessageType = "material"
)

// Material is a dataset item shared as a chat attachment.
type Material struct {
	Name       string            `json:"name"`
	Category   string            `json:"category,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Message is one entry in a conversation. ID is unique within the
// conversation and serves as the dedup and deletion key.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	Attachment     *Material   `json:"attachment,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Read           bool        `json:"read"`
}

// LastMessage is the trailing entry of a conversation, as carried in a
// summary.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"senderId"`
}

// Summary describes one conversation in a user's conversation list.
// LastMessage is nil for conversations without messages.
type Summary struct {
	ConversationID string       `json:"id"`
	User           User         `json:"user"`
	LastMessage    *LastMessage `json:"lastMessage"`
	UnreadCount    int          `json:"unreadCount"`
}

// ConversationID derives the deterministic conversation identifier for
// an unordered pair of user ids. Both participants compute the same id
// without a lookup.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "-")
}

// PeerID returns the other participant of a conversation id given one
// participant. User ids may themselves contain dashes, so the id is
// matched as a prefix or suffix rather than split on the separator.
func PeerID(conversationID, selfID string) (string, bool) {
	if rest, ok := strings.CutPrefix(conversationID, selfID+"-"); ok {
		return rest, true
	}
	if rest, ok := strings.CutSuffix(conversationID, "-"+selfID); ok {
		return rest, true
	}
	return "", false
}
